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
	"strings"
)

// SetBreakpoint registers a breakpoint by script URL. The line is 0-based,
// matching the wire protocol. The breakpoint survives reparses of matching
// scripts; resolved locations accumulate on the returned record as the
// target reports them.
func (s *Session) SetBreakpoint(
	ctx context.Context, url string, line int, column *int, condition string,
) (*SetBreakpointResult, error) {
	if url == "" {
		return nil, NewError(ErrInvalidParameters, "breakpoint url must not be empty")
	}
	if line < 0 {
		return nil, NewError(ErrInvalidParameters, "breakpoint line %d must not be negative", line)
	}
	if err := s.requireLive("set_breakpoint"); err != nil {
		return nil, err
	}

	params := setBreakpointByURLParams{
		LineNumber:   line,
		URL:          url,
		ColumnNumber: column,
		Condition:    condition,
	}
	var res setBreakpointByURLResult
	if err := s.conn.Execute(ctx, MethodDebuggerSetBreakpointByURL, params, &res); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.breakpoints[res.BreakpointID] = &BreakpointRecord{
		ID:        res.BreakpointID,
		URL:       url,
		Line:      line,
		Column:    column,
		Condition: condition,
		Enabled:   true,
		Resolved:  append([]Location(nil), res.Locations...),
	}
	s.mu.Unlock()

	return &SetBreakpointResult{
		BreakpointID: res.BreakpointID,
		Locations:    res.Locations,
	}, nil
}

// RemoveBreakpoint deletes a breakpoint previously set through this session.
func (s *Session) RemoveBreakpoint(ctx context.Context, breakpointID string) error {
	if err := s.requireLive("remove_breakpoint"); err != nil {
		return err
	}
	s.mu.Lock()
	_, ok := s.breakpoints[breakpointID]
	s.mu.Unlock()
	if !ok {
		return NewError(ErrBreakpointNotFound, "breakpoint %q not found in session %s", breakpointID, s.id)
	}
	if err := s.conn.Execute(ctx, MethodDebuggerRemoveBreakpoint,
		removeBreakpointParams{BreakpointID: breakpointID}, nil); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.breakpoints, breakpointID)
	s.mu.Unlock()
	return nil
}

// ListBreakpoints returns the session's breakpoint table, ordered by id.
// Served from the cache; no command is issued.
func (s *Session) ListBreakpoints() []BreakpointRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedBreakpoints()
}

// Resume continues execution. From PAUSED it resumes the paused target; from
// CONNECTED it releases a target started with --inspect-brk that is waiting
// for a debugger. Returns the state entered.
func (s *Session) Resume(ctx context.Context) (SessionState, error) {
	switch s.State() {
	case StatePaused:
		if err := s.conn.Execute(ctx, MethodDebuggerResume, nil, nil); err != nil {
			return "", err
		}
		// The resumed event may race the response; transition here and let
		// the event handler no-op.
		s.mu.Lock()
		if s.state == StatePaused {
			s.state = StateRunning
			s.paused = nil
		}
		s.mu.Unlock()
		return StateRunning, nil
	case StateConnected:
		if err := s.conn.Execute(ctx, MethodRuntimeRunIfWaitingForDebugger, nil, nil); err != nil {
			return "", err
		}
		s.mu.Lock()
		if s.state == StateConnected {
			s.state = StateRunning
		}
		s.mu.Unlock()
		return StateRunning, nil
	default:
		return "", NewError(ErrSessionInvalidState,
			"resume requires state %s|%s, session %s is %s",
			StatePaused, StateConnected, s.id, s.State())
	}
}

// Pause asks the target to break at the next opportunity. The transition to
// PAUSED happens when the paused event arrives, not on the command response.
func (s *Session) Pause(ctx context.Context) error {
	if err := s.requireState("pause", StateConnected, StateRunning); err != nil {
		return err
	}
	return s.conn.Execute(ctx, MethodDebuggerPause, nil, nil)
}

// StepOver executes the next statement without entering calls.
func (s *Session) StepOver(ctx context.Context) error {
	return s.step(ctx, "step_over", MethodDebuggerStepOver)
}

// StepInto executes the next statement, entering calls.
func (s *Session) StepInto(ctx context.Context) error {
	return s.step(ctx, "step_into", MethodDebuggerStepInto)
}

// StepOut runs until the current frame returns.
func (s *Session) StepOut(ctx context.Context) error {
	return s.step(ctx, "step_out", MethodDebuggerStepOut)
}

func (s *Session) step(ctx context.Context, op, method string) error {
	if err := s.requireState(op, StatePaused); err != nil {
		return err
	}
	if err := s.conn.Execute(ctx, method, nil, nil); err != nil {
		return err
	}
	// Execution moves until the step lands; the next paused event restores
	// PAUSED with a fresh snapshot.
	s.mu.Lock()
	if s.state == StatePaused {
		s.state = StateRunning
		s.paused = nil
	}
	s.mu.Unlock()
	return nil
}

// GetCallStack returns the current paused snapshot, innermost frame first,
// with each frame projected through its script's source map when one is
// loaded. Frame lines and columns stay in the wire's 0-based convention;
// the attached original positions use 1-based lines.
func (s *Session) GetCallStack(includeAsync bool) (*CallStack, error) {
	s.mu.Lock()
	if s.paused == nil {
		state := s.state
		s.mu.Unlock()
		return nil, NewError(ErrSessionInvalidState,
			"get_call_stack requires state %s, session %s is %s", StatePaused, s.id, state)
	}
	snapshot := *s.paused
	s.mu.Unlock()

	stack := CallStack{
		Reason:         snapshot.Reason,
		Frames:         make([]EnrichedFrame, 0, len(snapshot.CallFrames)),
		HitBreakpoints: snapshot.HitBreakpoints,
	}
	if includeAsync {
		stack.AsyncStackTrace = snapshot.AsyncStackTrace
	}
	for _, frame := range snapshot.CallFrames {
		stack.Frames = append(stack.Frames, s.enrichFrame(frame))
	}
	return &stack, nil
}

func (s *Session) enrichFrame(frame CallFrame) EnrichedFrame {
	ef := EnrichedFrame{
		CallFrameID:  frame.CallFrameID,
		FunctionName: frame.FunctionName,
		ScriptID:     frame.Location.ScriptID,
		URL:          frame.URL,
		Line:         frame.Location.LineNumber,
		Column:       frame.Location.ColumnNumber,
		Scopes:       make([]ScopeSummary, 0, len(frame.ScopeChain)),
	}
	for _, scope := range frame.ScopeChain {
		ef.Scopes = append(ef.Scopes, ScopeSummary{
			Type:     scope.Type,
			Name:     scope.Name,
			ObjectID: scope.Object.ObjectID,
		})
	}
	if m, ok := s.smaps.Lookup(frame.Location.ScriptID); ok {
		// Map queries take 1-based lines; the wire is 0-based.
		source, name, line, col, ok := m.OriginalPosition(
			frame.Location.LineNumber+1, frame.Location.ColumnNumber)
		if ok {
			ef.Original = &OriginalLocation{Source: source, Line: line, Column: col, Name: name}
		}
	}
	return ef
}

// GetScopeVariables lists the own properties of one scope of one frame in
// the current paused snapshot.
func (s *Session) GetScopeVariables(
	ctx context.Context, callFrameID string, scopeIndex int,
) ([]VariableEntry, error) {
	scope, err := s.scopeAt("get_scope_variables", callFrameID, scopeIndex)
	if err != nil {
		return nil, err
	}
	if scope.Object.ObjectID == "" {
		return []VariableEntry{}, nil
	}

	var res getPropertiesResult
	err = s.conn.Execute(ctx, MethodRuntimeGetProperties,
		getPropertiesParams{ObjectID: scope.Object.ObjectID, OwnProperties: true}, &res)
	if err != nil {
		return nil, err
	}

	entries := make([]VariableEntry, 0, len(res.Result))
	for _, prop := range res.Result {
		if prop.Value == nil {
			// Accessor properties carry no materialized value.
			continue
		}
		entries = append(entries, VariableEntry{Name: prop.Name, Value: *prop.Value})
	}
	return entries, nil
}

// SetVariableValue assigns a new value to a named variable in one scope of
// one paused frame. The value expression is first evaluated on the frame so
// that objects, functions and unserializable numbers all round-trip.
func (s *Session) SetVariableValue(
	ctx context.Context, callFrameID string, scopeIndex int, name, valueExpr string,
) error {
	if name == "" {
		return NewError(ErrInvalidParameters, "variable name must not be empty")
	}
	if _, err := s.scopeAt("set_variable_value", callFrameID, scopeIndex); err != nil {
		return err
	}

	var ev evaluateResult
	err := s.conn.Execute(ctx, MethodDebuggerEvaluateOnCallFrame,
		evaluateOnCallFrameParams{CallFrameID: callFrameID, Expression: valueExpr}, &ev)
	if err != nil {
		return err
	}
	if ev.ExceptionDetails != nil {
		return NewError(ErrProtocol,
			"evaluating new value for %q: %s", name, exceptionText(ev.ExceptionDetails))
	}

	newValue := CallArgument{}
	switch {
	case ev.Result.ObjectID != "":
		newValue.ObjectID = ev.Result.ObjectID
	case ev.Result.UnserializableValue != "":
		newValue.UnserializableValue = ev.Result.UnserializableValue
	default:
		newValue.Value = ev.Result.Value
	}

	return s.conn.Execute(ctx, MethodDebuggerSetVariableValue, setVariableValueParams{
		ScopeNumber:  scopeIndex,
		VariableName: name,
		NewValue:     newValue,
		CallFrameID:  callFrameID,
	}, nil)
}

// scopeAt validates a frame id and scope index against the current paused
// snapshot and returns the scope.
func (s *Session) scopeAt(op, callFrameID string, scopeIndex int) (*Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil {
		return nil, NewError(ErrSessionInvalidState,
			"%s requires state %s, session %s is %s", op, StatePaused, s.id, s.state)
	}
	for _, frame := range s.paused.CallFrames {
		if frame.CallFrameID != callFrameID {
			continue
		}
		if scopeIndex < 0 || scopeIndex >= len(frame.ScopeChain) {
			return nil, NewError(ErrInvalidParameters,
				"scope index %d out of range for frame %q (%d scopes)",
				scopeIndex, callFrameID, len(frame.ScopeChain))
		}
		scope := frame.ScopeChain[scopeIndex]
		return &scope, nil
	}
	return nil, NewError(ErrInvalidParameters,
		"call frame %q not in the current paused snapshot", callFrameID)
}

// Evaluate runs an expression on the target. With a call frame id it
// evaluates in that frame of the paused snapshot; without one it evaluates
// in the global scope of any live session. An exception thrown by the
// expression is reported in the result, not as an error.
func (s *Session) Evaluate(
	ctx context.Context, expression, callFrameID string, returnByValue bool,
) (*EvaluateResult, error) {
	if expression == "" {
		return nil, NewError(ErrInvalidParameters, "expression must not be empty")
	}

	var (
		res evaluateResult
		err error
	)
	if callFrameID != "" {
		if _, err = s.frameAt("evaluate", callFrameID); err != nil {
			return nil, err
		}
		err = s.conn.Execute(ctx, MethodDebuggerEvaluateOnCallFrame, evaluateOnCallFrameParams{
			CallFrameID:   callFrameID,
			Expression:    expression,
			ReturnByValue: returnByValue,
		}, &res)
	} else {
		if err = s.requireLive("evaluate"); err != nil {
			return nil, err
		}
		err = s.conn.Execute(ctx, MethodRuntimeEvaluate, runtimeEvaluateParams{
			Expression:    expression,
			ReturnByValue: returnByValue,
		}, &res)
	}
	if err != nil {
		return nil, err
	}
	return &EvaluateResult{Result: res.Result, ExceptionDetails: res.ExceptionDetails}, nil
}

// frameAt validates a frame id against the current paused snapshot.
func (s *Session) frameAt(op, callFrameID string) (*CallFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil {
		return nil, NewError(ErrSessionInvalidState,
			"%s on a call frame requires state %s, session %s is %s", op, StatePaused, s.id, s.state)
	}
	for i := range s.paused.CallFrames {
		if s.paused.CallFrames[i].CallFrameID == callFrameID {
			return &s.paused.CallFrames[i], nil
		}
	}
	return nil, NewError(ErrInvalidParameters,
		"call frame %q not in the current paused snapshot", callFrameID)
}

// SetPauseOnExceptions controls whether thrown exceptions pause execution.
// Accepted states are none, uncaught and all.
func (s *Session) SetPauseOnExceptions(ctx context.Context, state string) error {
	if !PauseOnExceptionsStates[state] {
		return NewError(ErrInvalidParameters,
			"pause-on-exceptions state %q, want none, uncaught or all", state)
	}
	if err := s.requireLive("set_pause_on_exceptions"); err != nil {
		return err
	}
	return s.conn.Execute(ctx, MethodDebuggerSetPauseOnExceptions,
		setPauseOnExceptionsParams{State: state}, nil)
}

// GetScriptSource returns the source of a parsed script. With preferOriginal
// set and a loaded source map that embeds original content, the first
// declared original source is returned instead of the generated code.
func (s *Session) GetScriptSource(
	ctx context.Context, scriptID string, preferOriginal bool,
) (*ScriptSource, error) {
	s.mu.Lock()
	rec, ok := s.scripts[scriptID]
	s.mu.Unlock()
	if !ok {
		return nil, NewError(ErrScriptNotFound, "script %q not found in session %s", scriptID, s.id)
	}

	if preferOriginal {
		if m, ok := s.smaps.Lookup(scriptID); ok {
			for _, src := range m.Sources() {
				if content, ok := m.SourceContent(src); ok {
					return &ScriptSource{
						Source:       content,
						URL:          src,
						IsOriginal:   true,
						SourceMapURL: rec.SourceMapURL,
					}, nil
				}
			}
		}
	}

	if err := s.requireLive("get_script_source"); err != nil {
		return nil, err
	}
	var res getScriptSourceResult
	err := s.conn.Execute(ctx, MethodDebuggerGetScriptSource,
		getScriptSourceParams{ScriptID: scriptID}, &res)
	if err != nil {
		return nil, err
	}
	return &ScriptSource{
		Source:       res.ScriptSource,
		URL:          rec.URL,
		IsOriginal:   false,
		SourceMapURL: rec.SourceMapURL,
	}, nil
}

// ListScripts returns the cached script table in parse order. Runtime
// internals and dependency trees are filtered out unless includeInternal is
// set.
func (s *Session) ListScripts(includeInternal bool) []ScriptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScriptRecord, 0, len(s.scriptOrder))
	for _, id := range s.scriptOrder {
		rec := s.scripts[id]
		if !includeInternal && isInternalScriptURL(rec.URL) {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

func isInternalScriptURL(url string) bool {
	return url == "" ||
		strings.HasPrefix(url, "node:") ||
		strings.HasPrefix(url, "internal/") ||
		strings.Contains(url, "node_modules")
}

// GetOriginalLocation projects a generated position onto the original
// source through the script's source map. The line is 1-based, the column
// 0-based. A script without a loaded map answers with HasSourceMap false
// rather than an error.
func (s *Session) GetOriginalLocation(scriptID string, line, column int) (*OriginalLocationResult, error) {
	s.mu.Lock()
	_, ok := s.scripts[scriptID]
	s.mu.Unlock()
	if !ok {
		return nil, NewError(ErrScriptNotFound, "script %q not found in session %s", scriptID, s.id)
	}

	m, ok := s.smaps.Lookup(scriptID)
	if !ok {
		return &OriginalLocationResult{HasSourceMap: false}, nil
	}
	source, name, origLine, origCol, ok := m.OriginalPosition(line, column)
	res := OriginalLocationResult{HasSourceMap: true}
	if ok {
		res.Original = &OriginalLocation{Source: source, Line: origLine, Column: origCol, Name: name}
	}
	return &res, nil
}

func exceptionText(details *ExceptionDetails) string {
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}
