// Package errors is the typed error used across syncpool. Every error carries a category
// and, when raised by a named pool, queue or primitive, that component's name, so a failure
// deep inside a shared primitive can be traced to the instance that owns it.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType is the error category
type ErrorType string

const (
	// ErrorTypeInternal is a broken invariant or a panic recovered from user code
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig is an invalid construction parameter
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeSystem is a lock, wait or signal failure of a primitive
	ErrorTypeSystem ErrorType = "system"
	// ErrorTypeTimeout is an expired wait, returned only by the context APIs
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeState is use of a closed object
	ErrorTypeState ErrorType = "state"
	// ErrorTypeValidation is an invalid argument
	ErrorTypeValidation ErrorType = "validation"
)

// Error is the concrete error type
type Error struct {
	Type ErrorType
	// Component is the diagnostic name of the pool, queue or primitive that raised the error
	Component string
	Message   string
	Cause     error
	Details   map[string]interface{}
	Stack     []StackFrame
}

// StackFrame is one caller recorded when the error was created
type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail attaches a key/value pair and returns e
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, 1)
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the owning component name and returns e
func (e *Error) WithComponent(name string) *Error {
	e.Component = name
	return e
}

// New returns an error of the given type
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Stack: callers(3)}
}

// Newf is New with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Stack: callers(3)}
}

// Wrap returns nil for a nil err. Wrapping one of our own errors keeps its stack and
// component name.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	w := &Error{Type: errType, Message: message, Cause: err}
	if inner, ok := as(err); ok {
		w.Component = inner.Component
		w.Stack = inner.Stack
	} else {
		w.Stack = callers(3)
	}
	return w
}

func as(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsRetryable reports whether err is a timeout
func IsRetryable(err error) bool { return IsType(err, ErrorTypeTimeout) }

// IsType reports whether the outermost *Error in err's chain has the given type
func IsType(err error, errType ErrorType) bool {
	e, ok := as(err)
	return ok && e.Type == errType
}

// ComponentOf returns the component name carried by err, or "" when there is none
func ComponentOf(err error) string {
	if e, ok := as(err); ok {
		return e.Component
	}
	return ""
}

const maxFrames = 32

// callers records the stack starting skip frames above runtime.Callers
func callers(skip int) []StackFrame {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])

	stack := make([]StackFrame, 0, n)
	for {
		f, more := frames.Next()
		stack = append(stack, StackFrame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			break
		}
	}
	return stack
}
