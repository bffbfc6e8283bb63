/*
 *
 * inspectd - a debugging broker for JavaScript runtime inspectors
 * Copyright (C) 2026 The inspectd Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
)

// Ensure BaseEventEmitter implements the EventEmitter interface.
var _ EventEmitter = &BaseEventEmitter{}

const (
	// Connection. Inbound wire notifications are emitted under their method
	// name (e.g. "Debugger.paused"); responses and closure get their own
	// event types.
	EventConnectionResponse string = "response"
	EventConnectionClose    string = "close"

	// Session notifications consumed by the controlling-client layer.
	EventSessionPaused       string = "execution_paused"
	EventSessionResumed      string = "execution_resumed"
	EventSessionScriptParsed string = "script_parsed"
	EventSessionClosed       string = "closed"
)

// Event as emitted by an EventEmitter.
type Event struct {
	typ  string
	data interface{}
}

// Type returns the event type the handler was registered for.
func (e Event) Type() string { return e.typ }

// Data returns the event payload.
func (e Event) Data() interface{} { return e.data }

// eventHandler is one subscriber registration. Events are queued through in
// and drained to ch by a dedicated pump goroutine, so each subscriber
// receives events in exactly the order they were emitted, however slowly it
// consumes them.
type eventHandler struct {
	ctx context.Context
	ch  chan Event
	in  chan Event
}

func newEventHandler(ctx context.Context, ch chan Event) *eventHandler {
	h := &eventHandler{ctx: ctx, ch: ch, in: make(chan Event)}
	go h.pump()
	return h
}

// enqueue hands an event to the pump. The pump is always ready to buffer, so
// this returns promptly and never stalls the emitter.
func (h *eventHandler) enqueue(ev Event) {
	select {
	case h.in <- ev:
	case <-h.ctx.Done():
	}
}

func (h *eventHandler) pump() {
	var pending []Event
	for {
		var (
			out  chan Event
			next Event
		)
		if len(pending) > 0 {
			out = h.ch
			next = pending[0]
		}
		select {
		case <-h.ctx.Done():
			return
		case ev := <-h.in:
			pending = append(pending, ev)
		case out <- next:
			pending = pending[1:]
		}
	}
}

// EventEmitter that all event emitters need to implement.
type EventEmitter interface {
	emit(event string, data interface{})
	on(ctx context.Context, events []string, ch chan Event)
	onAll(ctx context.Context, ch chan Event)
}

// BaseEventEmitter emits events to registered handlers.
type BaseEventEmitter struct {
	handlers    map[string][]*eventHandler
	handlersAll []*eventHandler

	handlersCh chan func() chan struct{}
	ctx        context.Context
}

// NewBaseEventEmitter creates a new instance of a base event emitter.
func NewBaseEventEmitter(ctx context.Context) BaseEventEmitter {
	bem := BaseEventEmitter{
		handlers:    make(map[string][]*eventHandler),
		handlersAll: make([]*eventHandler, 0),
		handlersCh:  make(chan func() chan struct{}),
		ctx:         ctx,
	}
	go bem.handleHandlers(ctx)
	return bem
}

// handleHandlers processes one registry mutation at a time so that handler
// bookkeeping needs no lock.
func (e *BaseEventEmitter) handleHandlers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.handlersCh:
			select {
			case <-ctx.Done():
				return
			default:
			}
			done := fn()
			done <- struct{}{}
		}
	}
}

// sync is a helper for synchronized access to the BaseEventEmitter.
func (e *BaseEventEmitter) sync(fn func()) {
	done := make(chan struct{})
	select {
	case <-e.ctx.Done():
		return
	case e.handlersCh <- func() chan struct{} {
		fn()
		return done
	}:
	}
	<-done
}

func (e *BaseEventEmitter) emit(event string, data interface{}) {
	e.sync(func() {
		emitTo := func(handlers []*eventHandler) []*eventHandler {
			for i := 0; i < len(handlers); {
				handler := handlers[i]
				select {
				case <-handler.ctx.Done():
					handlers = append(handlers[:i], handlers[i+1:]...)
					continue
				default:
					handler.enqueue(Event{event, data})
					i++
				}
			}
			return handlers
		}
		e.handlers[event] = emitTo(e.handlers[event])
		e.handlersAll = emitTo(e.handlersAll)
	})
}

// on registers a handler for the given events. A single registration gets a
// single pump, so ordering holds across all its events, not just within one.
func (e *BaseEventEmitter) on(ctx context.Context, events []string, ch chan Event) {
	e.sync(func() {
		handler := newEventHandler(ctx, ch)
		for _, event := range events {
			e.handlers[event] = append(e.handlers[event], handler)
		}
	})
}

// onAll registers a handler for all events.
func (e *BaseEventEmitter) onAll(ctx context.Context, ch chan Event) {
	e.sync(func() {
		e.handlersAll = append(e.handlersAll, newEventHandler(ctx, ch))
	})
}
