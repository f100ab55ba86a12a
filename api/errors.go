// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error kinds and error handling utilities for hioload-wl.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeConnectionClosed
	ErrCodeIO
	ErrCodeDecodeFailure
	ErrCodeProtocol
	ErrCodeHandler
	ErrCodeIDOutOfRange
	ErrCodeIDInUse
	ErrCodeQueueNotEmpty
	ErrCodeQueueDestroyed
	ErrCodeNotRegistered
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:               "ok",
	ErrCodeConnectionClosed: "connection_closed",
	ErrCodeIO:               "io",
	ErrCodeDecodeFailure:    "decode_failure",
	ErrCodeProtocol:         "protocol",
	ErrCodeHandler:          "handler",
	ErrCodeIDOutOfRange:     "id_out_of_range",
	ErrCodeIDInUse:          "id_in_use",
	ErrCodeQueueNotEmpty:    "queue_not_empty",
	ErrCodeQueueDestroyed:   "queue_destroyed",
	ErrCodeNotRegistered:    "not_registered",
}

// String returns the metric/log label of the code.
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Sticky reports whether an error of this kind faults the whole connection.
func (c ErrorCode) Sticky() bool {
	switch c {
	case ErrCodeConnectionClosed, ErrCodeIO, ErrCodeDecodeFailure, ErrCodeProtocol, ErrCodeHandler:
		return true
	}
	return false
}

// Sentinel errors. Compare with errors.Is; matching is by code.
var (
	ErrConnectionClosed = &Error{Code: ErrCodeConnectionClosed, Message: "connection closed by peer"}
	ErrIO               = &Error{Code: ErrCodeIO, Message: "connection i/o failure"}
	ErrDecodeFailure    = &Error{Code: ErrCodeDecodeFailure, Message: "malformed message"}
	ErrProtocol         = &Error{Code: ErrCodeProtocol, Message: "protocol error"}
	ErrHandler          = &Error{Code: ErrCodeHandler, Message: "event handler failed"}
	ErrIDOutOfRange     = &Error{Code: ErrCodeIDOutOfRange, Message: "object id out of range"}
	ErrIDInUse          = &Error{Code: ErrCodeIDInUse, Message: "object id in use"}
	ErrQueueNotEmpty    = &Error{Code: ErrCodeQueueNotEmpty, Message: "event queue not empty"}
	ErrQueueDestroyed   = &Error{Code: ErrCodeQueueDestroyed, Message: "event queue destroyed"}
	ErrNotRegistered    = &Error{Code: ErrCodeNotRegistered, Message: "no reader registered"}
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) > 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// CodeOf extracts the code of err, ErrCodeOK for nil and ErrCodeIO for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeIO
}

// Closed builds the error recorded when the peer performs an orderly close.
func Closed() *Error {
	return NewError(ErrCodeConnectionClosed, "connection closed by peer").Wrap(syscall.EPIPE)
}

// IOFailure wraps an OS-level read/write failure.
func IOFailure(op string, err error) *Error {
	return NewError(ErrCodeIO, op+" failed").Wrap(err)
}

// DecodeFailure describes a malformed message.
func DecodeFailure(format string, args ...any) *Error {
	return NewError(ErrCodeDecodeFailure, "malformed message: "+fmt.Sprintf(format, args...))
}
