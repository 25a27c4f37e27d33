// Package errors defines shopgraph's typed errors. Every failure surfaced
// by the toolkit carries an ErrorType so callers can branch on category
// (retry, re-authenticate, fix the query) without parsing message text.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType categorizes an error.
type ErrorType string

const (
	// ErrorTypeInternal marks bugs and unexpected states inside the toolkit
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation marks rejected inputs, e.g. a cost above capacity
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeRateLimit marks requests given up on after repeated throttling
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout marks wall-clock deadlines, e.g. bulk submission
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConflict marks contention over the shop's single bulk slot
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeConnection marks transport and non-200 HTTP failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication marks token and OAuth failures
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeConfig marks invalid configuration
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData marks undecodable payloads and malformed result lines
	ErrorTypeData ErrorType = "data"
	// ErrorTypeUserError marks userErrors reported inside an otherwise
	// successful GraphQL response
	ErrorTypeUserError ErrorType = "user_error"
	// ErrorTypeQuery marks top-level GraphQL errors
	ErrorTypeQuery ErrorType = "query"
)

// Error is a categorized error with an optional cause, free-form details,
// and the stack captured at construction.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is one captured call site.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key-value pair and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given type.
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Stack: captureStack()}
}

// Newf creates an error of the given type with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Stack: captureStack()}
}

// Wrap categorizes an existing error. Returns nil for a nil err. When err is
// already an *Error the original stack is kept; the earliest capture points
// closest to the fault.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	wrapped := &Error{Type: errType, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) {
		wrapped.Stack = inner.Stack
	} else {
		wrapped.Stack = captureStack()
	}
	return wrapped
}

// IsRetryable reports whether the failure category is transient. Rate limit,
// timeout, connection, and conflict errors clear up on their own; the rest
// need caller intervention.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection, ErrorTypeConflict:
		return true
	}
	return false
}

// IsType reports whether err is, or wraps, an *Error of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errType
}

func captureStack() []StackFrame {
	const maxDepth = 32

	pcs := make([]uintptr, maxDepth)
	// Skip runtime.Callers, this function, and the constructor.
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return nil
	}

	stack := make([]StackFrame, 0, n)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		stack = append(stack, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}
	return stack
}
