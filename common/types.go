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

import "time"

// SessionState is the session's position in its lifecycle state machine.
type SessionState string

const (
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateRunning      SessionState = "running"
	StatePaused       SessionState = "paused"
	StateDisconnected SessionState = "disconnected"
)

// live reports whether commands may still be issued in this state.
func (s SessionState) live() bool {
	return s == StateConnected || s == StateRunning || s == StatePaused
}

// PauseOnExceptionsState is the accepted value set for
// Debugger.setPauseOnExceptions.
var PauseOnExceptionsStates = map[string]bool{
	"none":     true,
	"uncaught": true,
	"all":      true,
}

// BreakpointRecord tracks one breakpoint issued through the session. The
// requested location is what the caller asked for (0-based line); resolved
// locations accumulate as the target reports them.
type BreakpointRecord struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Line      int        `json:"line"`
	Column    *int       `json:"column,omitempty"`
	Condition string     `json:"condition,omitempty"`
	Enabled   bool       `json:"enabled"`
	Resolved  []Location `json:"resolvedLocations"`
}

// ScriptRecord is the cached description of one Debugger.scriptParsed event.
// The table is keyed on scriptId; multiple records may share a URL.
type ScriptRecord struct {
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	StartLine    int    `json:"startLine"`
	StartColumn  int    `json:"startColumn"`
	EndLine      int    `json:"endLine"`
	EndColumn    int    `json:"endColumn"`
	Hash         string `json:"hash,omitempty"`
	IsModule     bool   `json:"isModule,omitempty"`
	SourceMapURL string `json:"sourceMapUrl,omitempty"`
	HasSourceMap bool   `json:"hasSourceMap"`
}

// OriginalLocation is a source-map-resolved position in pre-transpilation
// source. Line is 1-based, column 0-based.
type OriginalLocation struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Name   string `json:"name,omitempty"`
}

// ScopeSummary is the projection of a scope chain entry exposed on enriched
// frames.
type ScopeSummary struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	ObjectID string `json:"objectId,omitempty"`
}

// EnrichedFrame is one call frame of the paused snapshot with its
// source-map projection attached when available. Line and column are the
// generated (wire, 0-based) position.
type EnrichedFrame struct {
	CallFrameID  string            `json:"callFrameId"`
	FunctionName string            `json:"functionName"`
	ScriptID     string            `json:"scriptId"`
	URL          string            `json:"url"`
	Line         int               `json:"line"`
	Column       int               `json:"column"`
	Scopes       []ScopeSummary    `json:"scopes"`
	Original     *OriginalLocation `json:"original,omitempty"`
}

// CallStack is the enriched projection of the current paused snapshot,
// innermost frame first.
type CallStack struct {
	Reason          string          `json:"reason"`
	Frames          []EnrichedFrame `json:"frames"`
	HitBreakpoints  []string        `json:"hitBreakpoints,omitempty"`
	AsyncStackTrace *StackTrace     `json:"asyncStackTrace,omitempty"`
}

// VariableEntry is one named value of a scope.
type VariableEntry struct {
	Name  string       `json:"name"`
	Value RemoteObject `json:"value"`
}

// EvaluateResult carries the remote value of an evaluation and, when the
// expression threw, the exception details. An exception is not an error
// return.
type EvaluateResult struct {
	Result           RemoteObject      `json:"result"`
	ExceptionDetails *ExceptionDetails `json:"exceptionDetails,omitempty"`
}

// ScriptSource is the result of a source query.
type ScriptSource struct {
	Source       string `json:"source"`
	URL          string `json:"url"`
	IsOriginal   bool   `json:"isOriginal"`
	SourceMapURL string `json:"sourceMapUrl,omitempty"`
}

// OriginalLocationResult is the result of a generated→original projection.
type OriginalLocationResult struct {
	HasSourceMap bool              `json:"hasSourceMap"`
	Original     *OriginalLocation `json:"original,omitempty"`
}

// SetBreakpointResult is what SetBreakpoint returns: the target-issued id
// and the locations resolved immediately.
type SetBreakpointResult struct {
	BreakpointID string     `json:"breakpointId"`
	Locations    []Location `json:"locations"`
}

// PausedNotification is the payload of EventSessionPaused.
type PausedNotification struct {
	SessionID      string   `json:"sessionId"`
	Reason         string   `json:"reason"`
	HitBreakpoints []string `json:"hitBreakpoints,omitempty"`
}

// SessionSummary is one row of the sessions resource.
type SessionSummary struct {
	ID        string       `json:"id"`
	Name      string       `json:"name,omitempty"`
	TargetURL string       `json:"targetUrl"`
	State     SessionState `json:"state"`
	CreatedAt time.Time    `json:"createdAt"`
}

// SessionDetails is the per-session resource body.
type SessionDetails struct {
	SessionSummary
	Breakpoints []BreakpointRecord `json:"breakpoints"`
	Scripts     int                `json:"scriptCount"`
	CallStack   *CallStack         `json:"callStack,omitempty"`
}
