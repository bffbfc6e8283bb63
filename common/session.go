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
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/inspectd/inspectd/log"
	"github.com/inspectd/inspectd/sourcemaps"
)

// Ensure Session implements the EventEmitter interface.
var _ EventEmitter = &Session{}

// Session binds one external session id to one live WebSocket conversation
// with one inspector target. It owns the connection, the breakpoint and
// script tables, the paused snapshot and the source-map engine, and it is
// the only writer of all of them: the event demux loop and the operation
// handlers both take the session lock.
//
// The session is itself an event emitter; the controlling-client layer
// subscribes to EventSessionPaused, EventSessionResumed,
// EventSessionScriptParsed and EventSessionClosed.
type Session struct {
	BaseEventEmitter

	ctx      context.Context
	cancelFn context.CancelFunc
	conn     *Connection
	logger   *log.Logger
	smaps    *sourcemaps.Engine

	id        string
	name      string
	targetURL string
	createdAt time.Time

	mu          sync.Mutex
	state       SessionState
	breakpoints map[string]*BreakpointRecord
	scripts     map[string]*ScriptRecord
	scriptOrder []string
	paused      *pausedEventParams
}

// NewSession wires a session around an established connection and starts
// its event demux loop. The caller still has to run the handshake with
// connect before installing the session.
func NewSession(
	ctx context.Context, conn *Connection, smaps *sourcemaps.Engine,
	id, name, targetURL string, logger *log.Logger,
) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := Session{
		BaseEventEmitter: NewBaseEventEmitter(sctx),
		ctx:              sctx,
		cancelFn:         cancel,
		conn:             conn,
		logger:           logger,
		smaps:            smaps,
		id:               id,
		name:             name,
		targetURL:        targetURL,
		createdAt:        time.Now(),
		state:            StateConnecting,
		breakpoints:      make(map[string]*BreakpointRecord),
		scripts:          make(map[string]*ScriptRecord),
	}
	s.initEvents()
	return &s
}

// connect runs the domain-enable handshake. Failure of either command
// aborts session creation; the caller closes the connection.
func (s *Session) connect(ctx context.Context) error {
	if err := s.conn.Execute(ctx, MethodDebuggerEnable, nil, nil); err != nil {
		return WrapError(ErrConnectionFailed, err, "enabling debugger domain on %s", s.targetURL)
	}
	if err := s.conn.Execute(ctx, MethodRuntimeEnable, nil, nil); err != nil {
		return WrapError(ErrConnectionFailed, err, "enabling runtime domain on %s", s.targetURL)
	}
	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()
	return nil
}

func (s *Session) initEvents() {
	chHandler := make(chan Event)
	s.conn.on(s.ctx, []string{
		EventDebuggerPaused,
		EventDebuggerResumed,
		EventDebuggerScriptParsed,
		EventDebuggerBreakpointResolved,
		EventConnectionClose,
	}, chHandler)

	go func() {
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev := <-chHandler:
				if ev.typ == EventConnectionClose {
					s.teardown()
					return
				}
				s.handleDebuggerEvent(ev)
			}
		}
	}()
}

// handleDebuggerEvent routes one inbound notification into the state cache.
// Events are delivered in WebSocket arrival order; each handler holds the
// session lock for the duration of its mutation.
func (s *Session) handleDebuggerEvent(ev Event) {
	msg, ok := ev.data.(*Message)
	if !ok {
		return
	}

	switch ev.typ {
	case EventDebuggerPaused:
		var params pausedEventParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warnf("session", "dropping malformed paused event: %s", err)
			return
		}
		s.mu.Lock()
		s.paused = &params
		s.state = StatePaused
		s.mu.Unlock()
		s.emit(EventSessionPaused, &PausedNotification{
			SessionID:      s.id,
			Reason:         params.Reason,
			HitBreakpoints: params.HitBreakpoints,
		})

	case EventDebuggerResumed:
		s.mu.Lock()
		s.paused = nil
		if s.state == StatePaused {
			s.state = StateRunning
		}
		s.mu.Unlock()
		s.emit(EventSessionResumed, s.id)

	case EventDebuggerScriptParsed:
		var params scriptParsedEventParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warnf("session", "dropping malformed scriptParsed event: %s", err)
			return
		}
		rec := &ScriptRecord{
			ScriptID:     params.ScriptID,
			URL:          params.URL,
			StartLine:    params.StartLine,
			StartColumn:  params.StartColumn,
			EndLine:      params.EndLine,
			EndColumn:    params.EndColumn,
			Hash:         params.Hash,
			IsModule:     params.IsModule,
			SourceMapURL: params.SourceMapURL,
			HasSourceMap: params.SourceMapURL != "",
		}
		s.mu.Lock()
		_, seen := s.scripts[rec.ScriptID]
		if !seen {
			s.scriptOrder = append(s.scriptOrder, rec.ScriptID)
		}
		s.scripts[rec.ScriptID] = rec
		s.mu.Unlock()
		if seen {
			// Re-parse of a known script id (live reload, re-eval): the
			// cached map describes the previous incarnation.
			s.smaps.Evict(rec.ScriptID)
		}
		if rec.SourceMapURL != "" {
			// Source-map loading must not stall the event stream.
			go s.smaps.Load(s.ctx, rec.ScriptID, rec.URL, rec.SourceMapURL)
		}
		s.emit(EventSessionScriptParsed, *rec)

	case EventDebuggerBreakpointResolved:
		var params breakpointResolvedEventParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warnf("session", "dropping malformed breakpointResolved event: %s", err)
			return
		}
		s.mu.Lock()
		// Tolerate resolves for breakpoints this session never created.
		if rec, ok := s.breakpoints[params.BreakpointID]; ok {
			rec.Resolved = append(rec.Resolved, params.Location)
		}
		s.mu.Unlock()
	}
}

// teardown is the single transition into the terminal DISCONNECTED state.
// The state cache is abandoned: outstanding remote-object and call-frame
// ids died with the transport.
func (s *Session) teardown() {
	s.mu.Lock()
	alreadyDown := s.state == StateDisconnected
	s.state = StateDisconnected
	s.paused = nil
	s.mu.Unlock()
	if alreadyDown {
		return
	}
	s.smaps.Close()
	s.emit(EventSessionClosed, s.id)
	s.cancelFn()
}

// Close terminates the conversation with the target. Safe to call more than
// once; the close event drives the terminal transition.
func (s *Session) Close() {
	s.conn.Close()
}

// ID returns the external session id.
func (s *Session) ID() string { return s.id }

// Name returns the optional session name.
func (s *Session) Name() string { return s.name }

// TargetURL returns the target WebSocket URL.
func (s *Session) TargetURL() string { return s.targetURL }

// CreatedAt returns the session creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers ch for the given session notifications until ctx is
// done.
func (s *Session) Subscribe(ctx context.Context, events []string, ch chan Event) {
	s.on(ctx, events, ch)
}

// Summary projects the session into one row of the sessions resource.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:        s.id,
		Name:      s.name,
		TargetURL: s.targetURL,
		State:     s.State(),
		CreatedAt: s.createdAt,
	}
}

// Details projects the session into the per-session resource body:
// breakpoints and, when paused, the enriched call stack.
func (s *Session) Details() SessionDetails {
	details := SessionDetails{
		SessionSummary: s.Summary(),
		Breakpoints:    s.ListBreakpoints(),
	}
	s.mu.Lock()
	details.Scripts = len(s.scripts)
	hasSnapshot := s.paused != nil
	s.mu.Unlock()
	if hasSnapshot {
		if stack, err := s.GetCallStack(true); err == nil {
			details.CallStack = stack
		}
	}
	return details
}

// requireState fails with SESSION_INVALID_STATE unless the session is in
// one of the allowed states.
func (s *Session) requireState(op string, allowed ...SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	states := make([]string, len(allowed))
	for i, st := range allowed {
		states[i] = string(st)
	}
	return NewError(ErrSessionInvalidState,
		"%s requires state %s, session %s is %s", op, strings.Join(states, "|"), s.id, s.state)
}

// requireLive fails unless commands may still be issued.
func (s *Session) requireLive(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.live() {
		return nil
	}
	return NewError(ErrSessionInvalidState,
		"%s requires a live session, session %s is %s", op, s.id, s.state)
}

// sortedBreakpoints returns a stable copy of the breakpoint table. Caller
// must hold the lock.
func (s *Session) sortedBreakpoints() []BreakpointRecord {
	out := make([]BreakpointRecord, 0, len(s.breakpoints))
	for _, rec := range s.breakpoints {
		cp := *rec
		cp.Resolved = append([]Location(nil), rec.Resolved...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
