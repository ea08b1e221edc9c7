package rpcerror

import (
	"encoding/json"
	"fmt"
)

// Shape is the wire form of an Error.
type Shape struct {
	Code    Code       `json:"code"`
	Message string     `json:"message"`
	Cause   any        `json:"cause,omitempty"`
	Data    *ShapeData `json:"data,omitempty"`
}

// ShapeData carries debugging metadata alongside the shaped error.
type ShapeData struct {
	Code       Code   `json:"code"`
	HTTPStatus int    `json:"httpStatus"`
	Path       string `json:"path,omitempty"`
	Stack      string `json:"stack,omitempty"`
}

// Shape converts e into its wire form. The stack is included only when
// includeStack is set.
func (e *Error) Shape(path string, includeStack bool) *Shape {
	s := &Shape{
		Code:    e.Code,
		Message: e.Message,
		Cause:   wireCause(e.cause),
		Data: &ShapeData{
			Code:       e.Code,
			HTTPStatus: HTTPStatus(e.Code),
			Path:       path,
		},
	}
	if includeStack {
		s.Data.Stack = e.stack
	}
	return s
}

// FromShape rebuilds an *Error from a received Shape so callers on the far
// side of the bridge get the same error type the host produced.
func FromShape(s *Shape) *Error {
	if s == nil {
		return nil
	}
	e := &Error{Code: s.Code, Message: s.Message, cause: s.Cause}
	if s.Data != nil {
		e.stack = s.Data.Stack
	}
	return e
}

// Error makes Shape usable as an error value on its own.
func (s *Shape) Error() string {
	return string(s.Code) + ": " + s.Message
}

// wireCause turns a cause into something that survives JSON encoding.
func wireCause(c any) any {
	switch t := c.(type) {
	case nil:
		return nil
	case *Error:
		return t.Error()
	case error:
		return t.Error()
	case string, bool, float64, float32, int, int64, int32, uint, uint64, uint32:
		return t
	}
	if _, err := json.Marshal(c); err != nil {
		return fmt.Sprint(c)
	}
	return c
}
