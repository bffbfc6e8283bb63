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

import "encoding/json"

// The subset of the inspector protocol the broker speaks. Line and column
// numbers on the wire are 0-based.
const (
	MethodDebuggerEnable                 = "Debugger.enable"
	MethodDebuggerSetBreakpointByURL     = "Debugger.setBreakpointByUrl"
	MethodDebuggerRemoveBreakpoint       = "Debugger.removeBreakpoint"
	MethodDebuggerResume                 = "Debugger.resume"
	MethodDebuggerPause                  = "Debugger.pause"
	MethodDebuggerStepOver               = "Debugger.stepOver"
	MethodDebuggerStepInto               = "Debugger.stepInto"
	MethodDebuggerStepOut                = "Debugger.stepOut"
	MethodDebuggerEvaluateOnCallFrame    = "Debugger.evaluateOnCallFrame"
	MethodDebuggerSetVariableValue       = "Debugger.setVariableValue"
	MethodDebuggerSetPauseOnExceptions   = "Debugger.setPauseOnExceptions"
	MethodDebuggerGetScriptSource        = "Debugger.getScriptSource"
	MethodRuntimeEnable                  = "Runtime.enable"
	MethodRuntimeEvaluate                = "Runtime.evaluate"
	MethodRuntimeGetProperties           = "Runtime.getProperties"
	MethodRuntimeRunIfWaitingForDebugger = "Runtime.runIfWaitingForDebugger"

	EventDebuggerPaused             = "Debugger.paused"
	EventDebuggerResumed            = "Debugger.resumed"
	EventDebuggerScriptParsed       = "Debugger.scriptParsed"
	EventDebuggerBreakpointResolved = "Debugger.breakpointResolved"
)

// Location is a position in a parsed script.
type Location struct {
	ScriptID     string `json:"scriptId"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// RemoteObject mirrors Runtime.RemoteObject. Its object id is issued by the
// target and is valid only while the paused snapshot it arrived with is
// current.
type RemoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	ClassName           string          `json:"className,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
	ObjectID            string          `json:"objectId,omitempty"`
}

// CallArgument mirrors Runtime.CallArgument.
type CallArgument struct {
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	ObjectID            string          `json:"objectId,omitempty"`
}

// ExceptionDetails mirrors Runtime.ExceptionDetails.
type ExceptionDetails struct {
	ExceptionID  int           `json:"exceptionId"`
	Text         string        `json:"text"`
	LineNumber   int           `json:"lineNumber"`
	ColumnNumber int           `json:"columnNumber"`
	ScriptID     string        `json:"scriptId,omitempty"`
	URL          string        `json:"url,omitempty"`
	Exception    *RemoteObject `json:"exception,omitempty"`
}

// Scope is one entry of a call frame's scope chain.
type Scope struct {
	Type   string       `json:"type"`
	Object RemoteObject `json:"object"`
	Name   string       `json:"name,omitempty"`
}

// CallFrame mirrors Debugger.CallFrame.
type CallFrame struct {
	CallFrameID  string        `json:"callFrameId"`
	FunctionName string        `json:"functionName"`
	Location     Location      `json:"location"`
	URL          string        `json:"url"`
	ScopeChain   []Scope       `json:"scopeChain"`
	This         *RemoteObject `json:"this,omitempty"`
}

// RuntimeCallFrame is the lighter frame shape used inside async stack traces.
type RuntimeCallFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// StackTrace mirrors Runtime.StackTrace.
type StackTrace struct {
	Description string             `json:"description,omitempty"`
	CallFrames  []RuntimeCallFrame `json:"callFrames"`
	Parent      *StackTrace        `json:"parent,omitempty"`
}

// PropertyDescriptor is one entry of a Runtime.getProperties result.
type PropertyDescriptor struct {
	Name       string        `json:"name"`
	Value      *RemoteObject `json:"value,omitempty"`
	Writable   bool          `json:"writable,omitempty"`
	Enumerable bool          `json:"enumerable,omitempty"`
}

// Event payloads.

type pausedEventParams struct {
	Reason          string      `json:"reason"`
	CallFrames      []CallFrame `json:"callFrames"`
	HitBreakpoints  []string    `json:"hitBreakpoints,omitempty"`
	AsyncStackTrace *StackTrace `json:"asyncStackTrace,omitempty"`
}

type scriptParsedEventParams struct {
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	StartLine    int    `json:"startLine"`
	StartColumn  int    `json:"startColumn"`
	EndLine      int    `json:"endLine"`
	EndColumn    int    `json:"endColumn"`
	Hash         string `json:"hash,omitempty"`
	IsModule     bool   `json:"isModule,omitempty"`
	SourceMapURL string `json:"sourceMapURL,omitempty"`
}

type breakpointResolvedEventParams struct {
	BreakpointID string   `json:"breakpointId"`
	Location     Location `json:"location"`
}

// Command params and results.

type setBreakpointByURLParams struct {
	LineNumber   int    `json:"lineNumber"`
	URL          string `json:"url"`
	ColumnNumber *int   `json:"columnNumber,omitempty"`
	Condition    string `json:"condition,omitempty"`
}

type setBreakpointByURLResult struct {
	BreakpointID string     `json:"breakpointId"`
	Locations    []Location `json:"locations"`
}

type removeBreakpointParams struct {
	BreakpointID string `json:"breakpointId"`
}

type evaluateOnCallFrameParams struct {
	CallFrameID   string `json:"callFrameId"`
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue,omitempty"`
}

type runtimeEvaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue,omitempty"`
}

type evaluateResult struct {
	Result           RemoteObject      `json:"result"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
}

type getPropertiesParams struct {
	ObjectID      string `json:"objectId"`
	OwnProperties bool   `json:"ownProperties,omitempty"`
}

type getPropertiesResult struct {
	Result []PropertyDescriptor `json:"result"`
}

type setVariableValueParams struct {
	ScopeNumber  int          `json:"scopeNumber"`
	VariableName string       `json:"variableName"`
	NewValue     CallArgument `json:"newValue"`
	CallFrameID  string       `json:"callFrameId"`
}

type setPauseOnExceptionsParams struct {
	State string `json:"state"`
}

type getScriptSourceParams struct {
	ScriptID string `json:"scriptId"`
}

type getScriptSourceResult struct {
	ScriptSource string `json:"scriptSource"`
}
