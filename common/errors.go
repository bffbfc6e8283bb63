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
	"errors"
	"fmt"
)

// ErrorKind classifies the errors returned by the command surface.
type ErrorKind string

// The complete error taxonomy of the broker.
const (
	ErrSessionNotFound     ErrorKind = "SESSION_NOT_FOUND"
	ErrSessionInvalidState ErrorKind = "SESSION_INVALID_STATE"
	ErrConnectionFailed    ErrorKind = "CONNECTION_FAILED"
	ErrProtocol            ErrorKind = "PROTOCOL_ERROR"
	ErrInvalidParameters   ErrorKind = "INVALID_PARAMETERS"
	ErrTimeout             ErrorKind = "TIMEOUT"
	ErrBreakpointNotFound  ErrorKind = "BREAKPOINT_NOT_FOUND"
	ErrScriptNotFound      ErrorKind = "SCRIPT_NOT_FOUND"
	ErrSourceMap           ErrorKind = "SOURCE_MAP_ERROR"
	ErrMaxSessionsReached  ErrorKind = "MAX_SESSIONS_REACHED"
)

// Error is a broker error carrying its taxonomy kind. Callers discover the
// kind with errors.As or the KindOf helper.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error of the given kind wrapping cause. It returns nil
// if cause is nil.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the taxonomy kind of err, or the empty string when err does
// not carry one.
func KindOf(err error) ErrorKind {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind
	}
	return ""
}
