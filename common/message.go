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
	"fmt"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// Ensure Message round-trips through the easyjson interfaces used by the
// connection read/write loops.
var (
	_ easyjson.Marshaler   = Message{}
	_ easyjson.Unmarshaler = &Message{}
)

// Message is the JSON-RPC 2.0 envelope exchanged with the inspector over the
// WebSocket. Outbound commands carry ID, Method and Params. Inbound frames
// are either responses (ID plus Result or Error) or events (Method plus
// Params).
type Message struct {
	ID     int64               `json:"id,omitempty"`
	Method string              `json:"method,omitempty"`
	Params easyjson.RawMessage `json:"params,omitempty"`
	Result easyjson.RawMessage `json:"result,omitempty"`
	Error  *MessageError       `json:"error,omitempty"`
}

// IsResponse reports whether the frame answers a previously sent command.
func (m *Message) IsResponse() bool {
	return m.ID != 0 && m.Method == ""
}

// IsEvent reports whether the frame is a method notification.
func (m *Message) IsEvent() bool {
	return m.Method != ""
}

// MessageError is the error member of a JSON-RPC response.
type MessageError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error satisfies the error interface.
func (e *MessageError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// MarshalEasyJSON supports easyjson.Marshaler interface.
func (m Message) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawByte('{')
	first := true
	if m.ID != 0 {
		first = false
		out.RawString(`"id":`)
		out.Int64(m.ID)
	}
	if m.Method != "" {
		if !first {
			out.RawByte(',')
		}
		first = false
		out.RawString(`"method":`)
		out.String(m.Method)
	}
	if len(m.Params) > 0 {
		if !first {
			out.RawByte(',')
		}
		first = false
		out.RawString(`"params":`)
		out.Raw(m.Params, nil)
	}
	if len(m.Result) > 0 {
		if !first {
			out.RawByte(',')
		}
		first = false
		out.RawString(`"result":`)
		out.Raw(m.Result, nil)
	}
	if m.Error != nil {
		if !first {
			out.RawByte(',')
		}
		out.RawString(`"error":`)
		m.Error.MarshalEasyJSON(out)
	}
	out.RawByte('}')
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface.
func (m *Message) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "id":
			m.ID = in.Int64()
		case "method":
			m.Method = in.String()
		case "params":
			m.Params = easyjson.RawMessage(in.Raw())
		case "result":
			m.Result = easyjson.RawMessage(in.Raw())
		case "error":
			if m.Error == nil {
				m.Error = new(MessageError)
			}
			m.Error.UnmarshalEasyJSON(in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

// MarshalEasyJSON supports easyjson.Marshaler interface.
func (e MessageError) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawByte('{')
	out.RawString(`"code":`)
	out.Int64(e.Code)
	out.RawString(`,"message":`)
	out.String(e.Message)
	if e.Data != "" {
		out.RawString(`,"data":`)
		out.String(e.Data)
	}
	out.RawByte('}')
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface.
func (e *MessageError) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "code":
			e.Code = in.Int64()
		case "message":
			e.Message = in.String()
		case "data":
			e.Data = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}
