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

package common_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/inspectd/inspectd/common"
	"github.com/inspectd/inspectd/log"
	"github.com/inspectd/inspectd/tests/ws"
)

const testScriptURL = "file:///app/bundle.js"

// testMapJSON embeds the original content so source queries need no fetch.
// Its single mapping projects generated line 11 onto src/app.ts line 6.
const testMapJSON = `{
	"version": 3,
	"sources": ["src/app.ts"],
	"sourcesContent": ["export function main() {}\n"],
	"names": ["main"],
	"mappings": ";;;;;;;;;;AAKEA"
}`

const testPausedParams = `{
	"reason": "other",
	"callFrames": [{
		"callFrameId": "frame-0",
		"functionName": "main",
		"location": {"scriptId": "42", "lineNumber": 10, "columnNumber": 0},
		"url": "file:///app/bundle.js",
		"scopeChain": [
			{"type": "local", "object": {"type": "object", "objectId": "scope-0"}},
			{"type": "global", "object": {"type": "object", "objectId": "scope-1"}}
		]
	}],
	"hitBreakpoints": ["bp-1"]
}`

// inspectorScript acks the enable handshake and plays a small Node-like
// target: releasing it parses a few scripts and pauses on frame-0.
func inspectorScript(t *testing.T) func(*websocket.Conn, *common.Message, chan common.Message, chan struct{}) {
	t.Helper()

	inlineMap := "data:application/json;base64," +
		base64.StdEncoding.EncodeToString([]byte(testMapJSON))

	event := func(method, params string) common.Message {
		return common.Message{Method: method, Params: easyjson.RawMessage([]byte(params))}
	}
	ack := func(id int64, result string) common.Message {
		return common.Message{ID: id, Result: easyjson.RawMessage([]byte(result))}
	}

	return func(_ *websocket.Conn, msg *common.Message, writeCh chan common.Message, done chan struct{}) {
		params := string(msg.Params)
		switch msg.Method {
		case "":

		case common.MethodRuntimeRunIfWaitingForDebugger:
			writeCh <- ack(msg.ID, "{}")
			writeCh <- event(common.EventDebuggerScriptParsed, fmt.Sprintf(
				`{"scriptId":"42","url":%q,"endLine":20,"sourceMapURL":%q}`,
				testScriptURL, inlineMap))
			writeCh <- event(common.EventDebuggerScriptParsed,
				`{"scriptId":"43","url":"node:internal/modules/cjs/loader"}`)
			writeCh <- event(common.EventDebuggerScriptParsed,
				`{"scriptId":"44","url":"file:///app/node_modules/lodash/lodash.js"}`)
			writeCh <- event(common.EventDebuggerPaused, testPausedParams)

		case common.MethodDebuggerSetBreakpointByURL:
			assert.Equal(t, testScriptURL, gjson.Get(params, "url").String())
			assert.EqualValues(t, 9, gjson.Get(params, "lineNumber").Int())
			writeCh <- ack(msg.ID,
				`{"breakpointId":"bp-1","locations":[{"scriptId":"42","lineNumber":10,"columnNumber":0}]}`)
			writeCh <- event(common.EventDebuggerBreakpointResolved,
				`{"breakpointId":"bp-1","location":{"scriptId":"42","lineNumber":10,"columnNumber":4}}`)

		case common.MethodDebuggerResume:
			writeCh <- ack(msg.ID, "{}")
			writeCh <- event(common.EventDebuggerResumed, "{}")

		case common.MethodDebuggerStepOver:
			writeCh <- ack(msg.ID, "{}")
			writeCh <- event(common.EventDebuggerResumed, "{}")
			writeCh <- event(common.EventDebuggerPaused, testPausedParams)

		case common.MethodRuntimeGetProperties:
			assert.Equal(t, "scope-0", gjson.Get(params, "objectId").String())
			assert.True(t, gjson.Get(params, "ownProperties").Bool())
			writeCh <- ack(msg.ID, `{"result":[
				{"name":"count","value":{"type":"number","value":3,"description":"3"}},
				{"name":"get","value":{"type":"function","objectId":"fn-1"}},
				{"name":"accessorOnly"}
			]}`)

		case common.MethodDebuggerEvaluateOnCallFrame:
			assert.Equal(t, "frame-0", gjson.Get(params, "callFrameId").String())
			if gjson.Get(params, "expression").String() == "boom" {
				writeCh <- ack(msg.ID, `{
					"result":{"type":"undefined"},
					"exceptionDetails":{"exceptionId":1,"text":"ReferenceError","lineNumber":1,"columnNumber":0}
				}`)
				return
			}
			writeCh <- ack(msg.ID, `{"result":{"type":"number","value":7,"description":"7"}}`)

		case common.MethodDebuggerSetVariableValue:
			assert.Equal(t, "count", gjson.Get(params, "variableName").String())
			assert.EqualValues(t, 0, gjson.Get(params, "scopeNumber").Int())
			assert.EqualValues(t, 7, gjson.Get(params, "newValue.value").Int())
			writeCh <- ack(msg.ID, "{}")

		case common.MethodDebuggerGetScriptSource:
			writeCh <- ack(msg.ID, `{"scriptSource":"function main(){}"}`)

		default:
			writeCh <- ack(msg.ID, "{}")
		}
	}
}

func connectSession(t *testing.T) (*common.Registry, *common.Session, chan common.Event) {
	t.Helper()

	var cmds []string
	server := ws.NewServer(t, ws.WithInspectorHandler("/inspector", inspectorScript(t), &cmds))

	ctx, cancel := context.WithCancel(context.Background())
	reg := common.NewRegistry(ctx, common.NewConfig(), log.NewNullLogger())
	t.Cleanup(func() {
		reg.Close()
		cancel()
	})

	sess, err := reg.Connect(ctx, server.URL("/inspector"), "test session")
	require.NoError(t, err)
	require.Equal(t, common.StateConnected, sess.State())

	evCh := make(chan common.Event, 16)
	sess.Subscribe(ctx, []string{
		common.EventSessionPaused,
		common.EventSessionResumed,
		common.EventSessionScriptParsed,
		common.EventSessionClosed,
	}, evCh)
	return reg, sess, evCh
}

func waitEvent(t *testing.T, evCh chan common.Event, typ string) common.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-evCh:
			if ev.Type() == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", typ)
		}
	}
}

func TestSessionPauseResumeFlow(t *testing.T) {
	_, sess, evCh := connectSession(t)
	ctx := context.Background()

	// Releasing a waiting target moves CONNECTED to RUNNING.
	state, err := sess.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, state)

	ev := waitEvent(t, evCh, common.EventSessionPaused)
	note, ok := ev.Data().(*common.PausedNotification)
	require.True(t, ok)
	assert.Equal(t, sess.ID(), note.SessionID)
	assert.Equal(t, []string{"bp-1"}, note.HitBreakpoints)
	assert.Equal(t, common.StatePaused, sess.State())

	stack, err := sess.GetCallStack(false)
	require.NoError(t, err)
	require.Len(t, stack.Frames, 1)
	frame := stack.Frames[0]
	assert.Equal(t, "frame-0", frame.CallFrameID)
	assert.Equal(t, "main", frame.FunctionName)
	assert.Equal(t, 10, frame.Line)
	require.Len(t, frame.Scopes, 2)
	assert.Equal(t, "local", frame.Scopes[0].Type)

	state, err = sess.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, state)
	waitEvent(t, evCh, common.EventSessionResumed)
}

func TestSessionStackEnrichment(t *testing.T) {
	_, sess, evCh := connectSession(t)
	ctx := context.Background()

	_, err := sess.Resume(ctx)
	require.NoError(t, err)
	waitEvent(t, evCh, common.EventSessionPaused)

	// The inline map loads asynchronously off the scriptParsed event.
	require.Eventually(t, func() bool {
		res, err := sess.GetOriginalLocation("42", 11, 0)
		return err == nil && res.HasSourceMap
	}, 5*time.Second, 10*time.Millisecond)

	res, err := sess.GetOriginalLocation("42", 11, 0)
	require.NoError(t, err)
	require.NotNil(t, res.Original)
	assert.Equal(t, "src/app.ts", res.Original.Source)
	assert.Equal(t, 6, res.Original.Line)
	assert.Equal(t, 2, res.Original.Column)
	assert.Equal(t, "main", res.Original.Name)

	stack, err := sess.GetCallStack(false)
	require.NoError(t, err)
	require.NotNil(t, stack.Frames[0].Original)
	assert.Equal(t, "src/app.ts", stack.Frames[0].Original.Source)
	assert.Equal(t, 6, stack.Frames[0].Original.Line)

	// Embedded original content is served without a round-trip.
	src, err := sess.GetScriptSource(ctx, "42", true)
	require.NoError(t, err)
	assert.True(t, src.IsOriginal)
	assert.Equal(t, "src/app.ts", src.URL)
	assert.Contains(t, src.Source, "export function main")

	src, err = sess.GetScriptSource(ctx, "42", false)
	require.NoError(t, err)
	assert.False(t, src.IsOriginal)
	assert.Equal(t, "function main(){}", src.Source)

	_, err = sess.GetScriptSource(ctx, "9999", false)
	assert.Equal(t, common.ErrScriptNotFound, common.KindOf(err))
}

func TestSessionScopeVariables(t *testing.T) {
	_, sess, evCh := connectSession(t)
	ctx := context.Background()

	_, err := sess.Resume(ctx)
	require.NoError(t, err)
	waitEvent(t, evCh, common.EventSessionPaused)

	vars, err := sess.GetScopeVariables(ctx, "frame-0", 0)
	require.NoError(t, err)
	// The value-less accessor property is dropped.
	require.Len(t, vars, 2)
	assert.Equal(t, "count", vars[0].Name)
	assert.Equal(t, "number", vars[0].Value.Type)

	_, err = sess.GetScopeVariables(ctx, "frame-0", 5)
	assert.Equal(t, common.ErrInvalidParameters, common.KindOf(err))
	_, err = sess.GetScopeVariables(ctx, "no-such-frame", 0)
	assert.Equal(t, common.ErrInvalidParameters, common.KindOf(err))

	require.NoError(t, sess.SetVariableValue(ctx, "frame-0", 0, "count", "7"))

	res, err := sess.Evaluate(ctx, "count", "frame-0", true)
	require.NoError(t, err)
	assert.Equal(t, "number", res.Result.Type)
	assert.Nil(t, res.ExceptionDetails)
}

func TestSessionStepping(t *testing.T) {
	_, sess, evCh := connectSession(t)
	ctx := context.Background()

	// Stepping outside PAUSED is rejected.
	err := sess.StepOver(ctx)
	assert.Equal(t, common.ErrSessionInvalidState, common.KindOf(err))

	_, err = sess.Resume(ctx)
	require.NoError(t, err)
	waitEvent(t, evCh, common.EventSessionPaused)

	require.NoError(t, sess.StepOver(ctx))
	waitEvent(t, evCh, common.EventSessionPaused)
	assert.Equal(t, common.StatePaused, sess.State())

	_, err = sess.GetCallStack(false)
	require.NoError(t, err)
}

func TestSessionBreakpoints(t *testing.T) {
	_, sess, _ := connectSession(t)
	ctx := context.Background()

	res, err := sess.SetBreakpoint(ctx, testScriptURL, 9, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "bp-1", res.BreakpointID)
	require.Len(t, res.Locations, 1)
	assert.Equal(t, 10, res.Locations[0].LineNumber)

	bps := sess.ListBreakpoints()
	require.Len(t, bps, 1)
	assert.Equal(t, "bp-1", bps[0].ID)
	assert.Equal(t, 9, bps[0].Line)
	assert.True(t, bps[0].Enabled)

	// The resolved event appends a second location to the record.
	require.Eventually(t, func() bool {
		bps := sess.ListBreakpoints()
		return len(bps) == 1 && len(bps[0].Resolved) == 2
	}, 5*time.Second, 10*time.Millisecond)
	bps = sess.ListBreakpoints()
	assert.Equal(t, 4, bps[0].Resolved[1].ColumnNumber)

	_, err = sess.SetBreakpoint(ctx, "", 9, nil, "")
	assert.Equal(t, common.ErrInvalidParameters, common.KindOf(err))
	_, err = sess.SetBreakpoint(ctx, testScriptURL, -1, nil, "")
	assert.Equal(t, common.ErrInvalidParameters, common.KindOf(err))

	require.NoError(t, sess.RemoveBreakpoint(ctx, "bp-1"))
	assert.Empty(t, sess.ListBreakpoints())

	err = sess.RemoveBreakpoint(ctx, "bp-1")
	assert.Equal(t, common.ErrBreakpointNotFound, common.KindOf(err))
}

func TestSessionListScripts(t *testing.T) {
	_, sess, evCh := connectSession(t)
	ctx := context.Background()

	_, err := sess.Resume(ctx)
	require.NoError(t, err)
	waitEvent(t, evCh, common.EventSessionPaused)

	require.Eventually(t, func() bool {
		return len(sess.ListScripts(true)) == 3
	}, 5*time.Second, 10*time.Millisecond)

	visible := sess.ListScripts(false)
	require.Len(t, visible, 1)
	assert.Equal(t, "42", visible[0].ScriptID)
	assert.Equal(t, testScriptURL, visible[0].URL)
	assert.True(t, visible[0].HasSourceMap)
}

func TestSessionInvalidStateGating(t *testing.T) {
	_, sess, _ := connectSession(t)
	ctx := context.Background()

	_, err := sess.GetCallStack(false)
	assert.Equal(t, common.ErrSessionInvalidState, common.KindOf(err))

	_, err = sess.GetScopeVariables(ctx, "frame-0", 0)
	assert.Equal(t, common.ErrSessionInvalidState, common.KindOf(err))

	err = sess.SetPauseOnExceptions(ctx, "sometimes")
	assert.Equal(t, common.ErrInvalidParameters, common.KindOf(err))
	require.NoError(t, sess.SetPauseOnExceptions(ctx, "uncaught"))

	_, err = sess.Evaluate(ctx, "", "", false)
	assert.Equal(t, common.ErrInvalidParameters, common.KindOf(err))

	// Global evaluation works in any live state.
	res, err := sess.Evaluate(ctx, "1+1", "", true)
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestSessionEvaluateException(t *testing.T) {
	_, sess, evCh := connectSession(t)
	ctx := context.Background()

	_, err := sess.Resume(ctx)
	require.NoError(t, err)
	waitEvent(t, evCh, common.EventSessionPaused)

	// A thrown exception is a successful evaluation carrying the details.
	res, err := sess.Evaluate(ctx, "boom", "frame-0", false)
	require.NoError(t, err)
	require.NotNil(t, res.ExceptionDetails)
	assert.Equal(t, "ReferenceError", res.ExceptionDetails.Text)
	assert.Equal(t, "undefined", res.Result.Type)
}

func TestSessionTransportLossDuringCommand(t *testing.T) {
	// Ack the handshake, then kill the conversation instead of answering
	// the first pause command.
	handler := func(_ *websocket.Conn, msg *common.Message, writeCh chan common.Message, done chan struct{}) {
		switch msg.Method {
		case "":
		case common.MethodDebuggerPause:
			close(done)
		default:
			writeCh <- common.Message{ID: msg.ID, Result: easyjson.RawMessage([]byte("{}"))}
		}
	}
	server := ws.NewServer(t, ws.WithInspectorHandler("/inspector", handler, nil))

	ctx, cancel := context.WithCancel(context.Background())
	reg := common.NewRegistry(ctx, common.NewConfig(), log.NewNullLogger())
	t.Cleanup(func() {
		reg.Close()
		cancel()
	})

	sess, err := reg.Connect(ctx, server.URL("/inspector"), "")
	require.NoError(t, err)

	err = sess.Pause(ctx)
	require.Error(t, err)
	assert.Equal(t, common.ErrConnectionFailed, common.KindOf(err))

	require.Eventually(t, func() bool {
		_, err := reg.Get(sess.ID())
		return common.KindOf(err) == common.ErrSessionNotFound
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionScriptReparseDropsStaleMap(t *testing.T) {
	// A script id parsed again (live reload) invalidates the cached map of
	// its previous incarnation, even when the new parse carries no map.
	inlineMap := "data:application/json;base64," +
		base64.StdEncoding.EncodeToString([]byte(testMapJSON))
	event := func(method, params string) common.Message {
		return common.Message{Method: method, Params: easyjson.RawMessage([]byte(params))}
	}
	handler := func(_ *websocket.Conn, msg *common.Message, writeCh chan common.Message, _ chan struct{}) {
		switch msg.Method {
		case "":
		case common.MethodRuntimeRunIfWaitingForDebugger:
			writeCh <- common.Message{ID: msg.ID, Result: easyjson.RawMessage([]byte("{}"))}
			writeCh <- event(common.EventDebuggerScriptParsed, fmt.Sprintf(
				`{"scriptId":"42","url":%q,"endLine":20,"sourceMapURL":%q}`,
				testScriptURL, inlineMap))
		case common.MethodDebuggerPause:
			writeCh <- common.Message{ID: msg.ID, Result: easyjson.RawMessage([]byte("{}"))}
			writeCh <- event(common.EventDebuggerScriptParsed, fmt.Sprintf(
				`{"scriptId":"42","url":%q,"endLine":25}`, testScriptURL))
			writeCh <- event(common.EventDebuggerPaused, testPausedParams)
		default:
			writeCh <- common.Message{ID: msg.ID, Result: easyjson.RawMessage([]byte("{}"))}
		}
	}
	server := ws.NewServer(t, ws.WithInspectorHandler("/inspector", handler, nil))

	ctx, cancel := context.WithCancel(context.Background())
	reg := common.NewRegistry(ctx, common.NewConfig(), log.NewNullLogger())
	t.Cleanup(func() {
		reg.Close()
		cancel()
	})

	sess, err := reg.Connect(ctx, server.URL("/inspector"), "")
	require.NoError(t, err)
	evCh := make(chan common.Event, 16)
	sess.Subscribe(ctx, []string{common.EventSessionPaused}, evCh)

	_, err = sess.Resume(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		res, err := sess.GetOriginalLocation("42", 11, 0)
		return err == nil && res.HasSourceMap
	}, 5*time.Second, 10*time.Millisecond)

	// The pause command doubles as the reload trigger in this target.
	require.NoError(t, sess.Pause(ctx))
	waitEvent(t, evCh, common.EventSessionPaused)

	res, err := sess.GetOriginalLocation("42", 11, 0)
	require.NoError(t, err)
	assert.False(t, res.HasSourceMap)

	scripts := sess.ListScripts(false)
	require.Len(t, scripts, 1)
	assert.False(t, scripts[0].HasSourceMap)
	assert.Equal(t, 25, scripts[0].EndLine)
}

func TestSessionDetails(t *testing.T) {
	_, sess, evCh := connectSession(t)
	ctx := context.Background()

	_, err := sess.SetBreakpoint(ctx, testScriptURL, 9, nil, "")
	require.NoError(t, err)

	_, err = sess.Resume(ctx)
	require.NoError(t, err)
	waitEvent(t, evCh, common.EventSessionPaused)

	details := sess.Details()
	assert.Equal(t, sess.ID(), details.ID)
	assert.Equal(t, "test session", details.Name)
	assert.Equal(t, common.StatePaused, details.State)
	assert.Len(t, details.Breakpoints, 1)
	require.NotNil(t, details.CallStack)
	assert.Len(t, details.CallStack.Frames, 1)
}
