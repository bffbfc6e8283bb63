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
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/inspectd/inspectd/log"
)

const wsWriteBufferSize = 1 << 20

// Ensure Connection implements the EventEmitter interface.
var _ EventEmitter = &Connection{}

/*
	Connection owns one WebSocket conversation with one inspector target.

	The read loop decodes JSON-RPC frames and classifies them: frames with an
	id and no method are responses and are emitted under
	EventConnectionResponse, where the Execute call that allocated the id is
	listening; frames with a method are notifications and are emitted under
	the method name, where the owning Session routes them into its state
	cache. Malformed frames are logged and dropped.

	The write loop serializes all outbound commands, one frame per message.
	When the transport ends, EventConnectionClose is emitted exactly once and
	every in-flight Execute fails with CONNECTION_FAILED.
*/
type Connection struct {
	BaseEventEmitter

	ctx          context.Context
	wsURL        string
	logger       *log.Logger
	conn         *websocket.Conn
	sendCh       chan *Message
	closeCh      chan int
	errorCh      chan error
	done         chan struct{}
	shutdownOnce sync.Once
	msgID        int64
	cmdTimeout   time.Duration

	// Reuse the easyjson structs to avoid allocs per Read/Write.
	decoder jlexer.Lexer
	encoder jwriter.Writer
}

// NewConnection dials the inspector WebSocket endpoint and starts the read
// and write loops. cmdTimeout bounds every command issued through Execute.
func NewConnection(ctx context.Context, wsURL string, cmdTimeout time.Duration, logger *log.Logger) (*Connection, error) {
	wsd := websocket.Dialer{
		HandshakeTimeout: time.Second * 60,
		Proxy:            http.ProxyFromEnvironment,
		WriteBufferSize:  wsWriteBufferSize,
	}

	conn, _, connErr := wsd.DialContext(ctx, wsURL, nil)
	if connErr != nil {
		return nil, WrapError(ErrConnectionFailed, connErr, "dialing %s", wsURL)
	}

	c := Connection{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		ctx:              ctx,
		wsURL:            wsURL,
		logger:           logger,
		conn:             conn,
		sendCh:           make(chan *Message, 32), // Avoid blocking in Execute
		closeCh:          make(chan int),
		errorCh:          make(chan error),
		done:             make(chan struct{}),
		msgID:            0,
		cmdTimeout:       cmdTimeout,
	}

	go c.recvLoop()
	go c.sendLoop()

	return &c, nil
}

// closeConnection cleanly closes the WebSocket connection.
// Returns an error if sending the close control frame fails.
func (c *Connection) closeConnection(code int) error {
	var err error

	c.shutdownOnce.Do(func() {
		defer func() {
			_ = c.conn.Close()

			// Stop the main control loop
			close(c.done)
		}()

		err = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(10*time.Second),
		)

		c.emit(EventConnectionClose, code)
	})

	return err
}

func (c *Connection) handleIOError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		// Report an unexpected closure. Only an in-flight Execute drains
		// errorCh; with the connection idle the closure below must still
		// proceed, so never block here.
		select {
		case c.errorCh <- err:
		case <-c.done:
			return
		default:
		}
	}
	code := websocket.CloseGoingAway
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	}
	select {
	case c.closeCh <- code:
	case <-c.done:
	}
}

func (c *Connection) recvLoop() {
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.handleIOError(err)
			return
		}

		c.logger.Debugf("cdp:recv", "<- %s", buf)

		var msg Message
		c.decoder = jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&c.decoder)
		if err := c.decoder.Error(); err != nil {
			c.logger.Warnf("cdp", "dropping malformed frame: %s", err)
			continue
		}

		switch {
		case msg.IsEvent():
			c.emit(msg.Method, &msg)
		case msg.IsResponse():
			c.emit(EventConnectionResponse, &msg)
		default:
			c.logger.Warnf("cdp", "dropping frame without id or method: %s", buf)
		}
	}
}

func (c *Connection) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			c.encoder = jwriter.Writer{}
			msg.MarshalEasyJSON(&c.encoder)
			if err := c.encoder.Error; err != nil {
				select {
				case c.errorCh <- err:
				case <-c.done:
					return
				}
				continue
			}

			buf, _ := c.encoder.BuildBytes()
			c.logger.Debugf("cdp:send", "-> %s", buf)
			writer, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.handleIOError(err)
				return
			}
			if _, err := writer.Write(buf); err != nil {
				c.handleIOError(err)
				return
			}
			if err := writer.Close(); err != nil {
				c.handleIOError(err)
				return
			}
		case code := <-c.closeCh:
			_ = c.closeConnection(code)
		case <-c.done:
			return
		}
	}
}

func (c *Connection) send(ctx context.Context, msg *Message, recvCh chan *Message, res interface{}) error {
	select {
	case c.sendCh <- msg:
	case err := <-c.errorCh:
		return WrapError(ErrConnectionFailed, err, "sending %q", msg.Method)
	case code := <-c.closeCh:
		_ = c.closeConnection(code)
		return NewError(ErrConnectionFailed, "connection closed with code %d", code)
	case <-c.done:
		return NewError(ErrConnectionFailed, "connection to %s lost", c.wsURL)
	case <-ctx.Done():
		return c.ctxError(ctx, msg.Method)
	}

	if recvCh == nil {
		return nil
	}

	// Block waiting for response.
	select {
	case resp := <-recvCh:
		switch {
		case resp == nil:
			return NewError(ErrConnectionFailed, "connection to %s lost", c.wsURL)
		case resp.Error != nil:
			return &Error{Kind: ErrProtocol, Msg: resp.Error.Message, Cause: resp.Error}
		case res != nil && len(resp.Result) > 0:
			if err := json.Unmarshal(resp.Result, res); err != nil {
				return WrapError(ErrProtocol, err, "decoding %q result", msg.Method)
			}
		}
	case err := <-c.errorCh:
		return WrapError(ErrConnectionFailed, err, "awaiting %q response", msg.Method)
	case code := <-c.closeCh:
		_ = c.closeConnection(code)
		return NewError(ErrConnectionFailed, "connection closed with code %d", code)
	case <-c.done:
		return NewError(ErrConnectionFailed, "connection to %s lost", c.wsURL)
	case <-ctx.Done():
		return c.ctxError(ctx, msg.Method)
	}

	return nil
}

func (c *Connection) ctxError(ctx context.Context, method string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(ErrTimeout, "command %q timed out after %s", method, c.cmdTimeout)
	}
	return ctx.Err()
}

// Close cleanly terminates the WebSocket conversation.
func (c *Connection) Close() {
	_ = c.closeConnection(websocket.CloseGoingAway)
}

// Execute performs a synchronous command send and receive. Params are
// encoded into the JSON-RPC envelope; the result member of the matching
// response is decoded into res when non-nil. Each command gets a fresh,
// monotonically increasing id; the response listener is registered before
// the frame is handed to the write loop, so a response can never be missed.
// Late responses arriving after the timeout find no listener and are
// discarded.
func (c *Connection) Execute(ctx context.Context, method string, params, res interface{}) error {
	id := atomic.AddInt64(&c.msgID, 1)

	timeout := c.cmdTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Setup event handler used to block for response to message being sent.
	ch := make(chan *Message, 1)
	evCancelCtx, evCancelFn := context.WithCancel(ctx)
	chEvHandler := make(chan Event)
	go func() {
		for {
			select {
			case <-evCancelCtx.Done():
				return
			case ev := <-chEvHandler:
				if msg, ok := ev.data.(*Message); ok && msg.ID == id {
					select {
					case <-evCancelCtx.Done():
					case ch <- msg:
						// We expect only one response with the matching
						// message id, then remove the handler by cancelling
						// its context.
						evCancelFn()
						return
					}
				}
			}
		}
	}()
	c.on(evCancelCtx, []string{EventConnectionResponse}, chEvHandler)
	defer evCancelFn() // Remove event handler

	msg := &Message{ID: id, Method: method}
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return WrapError(ErrInvalidParameters, err, "encoding %q params", method)
		}
		msg.Params = easyjson.RawMessage(buf)
	}
	return c.send(ctx, msg, ch, res)
}
