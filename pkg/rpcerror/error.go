// Package rpcerror defines the error type carried across the RPC bridge and the
// uniform shape it takes on the wire.
//
// Every failure that reaches a caller, whether it came from a handler, from
// request validation or from the transport itself, is normalized into an
// *Error and serialized as a Shape. Callers branch on Code, never on the Go
// type of the original failure.
package rpcerror

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code is the stable, machine-facing error code of a shaped error.
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeParseError         Code = "PARSE_ERROR"
	CodeMethodNotSupported Code = "METHOD_NOT_SUPPORTED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeTimeout            Code = "TIMEOUT"
	CodeInternal           Code = "INTERNAL"
	CodeAborted            Code = "ABORTED"
	CodeTransport          Code = "TRANSPORT_ERROR"
)

var httpStatusByCode = map[Code]int{
	CodeBadRequest:         400,
	CodeParseError:         400,
	CodeNotFound:           404,
	CodeMethodNotSupported: 405,
	CodeTimeout:            408,
	CodeConflict:           409,
	CodeAborted:            499,
	CodeInternal:           500,
	CodeTransport:          502,
}

// HTTPStatus returns the HTTP-like status for code. Unknown codes map to 500.
func HTTPStatus(code Code) int {
	if s, ok := httpStatusByCode[code]; ok {
		return s
	}
	return 500
}

// Error is the tagged error variant recognized by the dispatcher. A value of
// this type keeps its code and stack when it crosses the bridge; anything else
// is wrapped as CodeInternal.
type Error struct {
	Code    Code
	Message string
	cause   any
	stack   string
}

// stackTracer is implemented by values that carry their own stack trace.
type stackTracer interface {
	Stack() string
}

// New creates an Error with a freshly captured stack.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, stack: captureStack(3)}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), stack: captureStack(3)}
}

// Wrap creates an Error around an arbitrary cause. An empty message is derived
// from the cause. When the cause exposes a stack trace it is reused instead of
// capturing a new one.
func Wrap(code Code, cause any, message string) *Error {
	if ce, ok := cause.(*Error); ok && ce == nil {
		cause = nil
	}
	if message == "" {
		message = messageFromUnknown(cause, string(code))
	}
	e := &Error{Code: code, Message: message, cause: cause}
	if st, ok := cause.(stackTracer); ok && st.Stack() != "" {
		e.stack = st.Stack()
	} else {
		e.stack = captureStack(3)
	}
	return e
}

// Aborted is the error a pending call resolves with when its caller gives up
// before a reply arrives.
func Aborted() *Error {
	return &Error{Code: CodeAborted, Message: "The operation was aborted"}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return string(e.Code) + ": " + e.Message
}

// Unwrap exposes the cause to errors.Is / errors.As when it is an error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	if err, ok := e.cause.(error); ok {
		return err
	}
	return nil
}

// Cause returns the original value this error was built from, if any.
func (e *Error) Cause() any { return e.cause }

// Stack returns the recorded stack trace.
func (e *Error) Stack() string {
	if e == nil {
		return ""
	}
	return e.stack
}

// HTTPStatus returns the HTTP-like status for e.Code.
func (e *Error) HTTPStatus() int { return HTTPStatus(e.Code) }

// From normalizes any value into an *Error.
//
//   - nil => nil
//   - a non-nil *Error anywhere in the chain => returned as-is
//   - context.DeadlineExceeded => CodeTimeout
//   - anything else => CodeInternal with the value kept as cause
func From(v any) *Error {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		var e *Error
		if errors.As(err, &e) && e != nil {
			return e
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Wrap(CodeTimeout, err, "")
		}
	}
	return Wrap(CodeInternal, v, "")
}

// CodeOf returns the code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func messageFromUnknown(v any, fallback string) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	}
	return fallback
}

func captureStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}
