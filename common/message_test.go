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
	"testing"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeMessage(t *testing.T, data string) *Message {
	t.Helper()
	var msg Message
	in := jlexer.Lexer{Data: []byte(data)}
	msg.UnmarshalEasyJSON(&in)
	require.NoError(t, in.Error())
	return &msg
}

func TestMessageDecodeResponse(t *testing.T) {
	msg := decodeMessage(t, `{"id":7,"result":{"breakpointId":"bp-1","locations":[]}}`)
	assert.True(t, msg.IsResponse())
	assert.False(t, msg.IsEvent())
	assert.EqualValues(t, 7, msg.ID)
	assert.JSONEq(t, `{"breakpointId":"bp-1","locations":[]}`, string(msg.Result))
}

func TestMessageDecodeErrorResponse(t *testing.T) {
	msg := decodeMessage(t, `{"id":3,"error":{"code":-32000,"message":"no script","data":"x"}}`)
	assert.True(t, msg.IsResponse())
	require.NotNil(t, msg.Error)
	assert.EqualValues(t, -32000, msg.Error.Code)
	assert.Equal(t, "no script (-32000)", msg.Error.Error())
}

func TestMessageDecodeEvent(t *testing.T) {
	msg := decodeMessage(t, `{"method":"Debugger.paused","params":{"reason":"other"},"extra":[1,2]}`)
	assert.True(t, msg.IsEvent())
	assert.False(t, msg.IsResponse())
	assert.Equal(t, EventDebuggerPaused, msg.Method)
	assert.JSONEq(t, `{"reason":"other"}`, string(msg.Params))
}

func TestMessageDecodeMalformed(t *testing.T) {
	var msg Message
	in := jlexer.Lexer{Data: []byte(`{"id":`)}
	msg.UnmarshalEasyJSON(&in)
	assert.Error(t, in.Error())
}

func TestMessageEncodeCommand(t *testing.T) {
	msg := Message{
		ID:     12,
		Method: MethodDebuggerSetBreakpointByURL,
		Params: easyjson.RawMessage([]byte(`{"url":"file:///a.js","lineNumber":4}`)),
	}
	out := jwriter.Writer{}
	msg.MarshalEasyJSON(&out)
	require.NoError(t, out.Error)
	buf, err := out.BuildBytes()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":12,"method":"Debugger.setBreakpointByUrl","params":{"url":"file:///a.js","lineNumber":4}}`,
		string(buf))
}

func TestMessageEncodeSkipsEmptyMembers(t *testing.T) {
	out := jwriter.Writer{}
	Message{ID: 1, Method: MethodDebuggerPause}.MarshalEasyJSON(&out)
	buf, err := out.BuildBytes()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"method":"Debugger.pause"}`, string(buf))
}
