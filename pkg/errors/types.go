package errors

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Admission errors, raised before the session lock is touched
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeLockUnavailable ErrorCode = "LOCK_UNAVAILABLE"

	// Cycle errors, raised while the session lock is held
	ErrCodeSessionUnhealthy ErrorCode = "SESSION_UNHEALTHY"
	ErrCodeSimulation       ErrorCode = "SIMULATION_FAILED"
	ErrCodeStreamTimeout    ErrorCode = "STREAM_TIMEOUT"
	ErrCodeClientGone       ErrorCode = "CLIENT_GONE"

	// Browser runtime errors
	ErrCodeBrowserLaunch  ErrorCode = "BROWSER_LAUNCH"
	ErrCodeBrowserBinding ErrorCode = "BROWSER_BINDING"
	ErrCodeCookieRead     ErrorCode = "COOKIE_READ"
	ErrCodeCookieWrite    ErrorCode = "COOKIE_WRITE"

	// Generic errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error is a coded error carrying optional context and a caller-facing message.
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Stack       []Frame
	Retryable   bool
	UserMessage string
	Remediation []string
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Stack:   captureStack(2),
	}
}

// Wrap attaches a code and message to err. Returns nil when err is nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the message shown to stream consumers.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithRemediation replaces the remediation tips for the error.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) == 0 {
		return e
	}
	e.Remediation = append([]string{}, tips...)
	return e
}

// Error implements the error interface. Context keys are printed sorted.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}
	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Public returns the text that may be sent to a stream consumer.
func (e *Error) Public() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// StackTrace returns a formatted stack trace
func (e *Error) StackTrace() string {
	var sb strings.Builder
	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, frame.Function)
		fmt.Fprintf(&sb, "     %s:%d\n", frame.File, frame.Line)
	}
	return sb.String()
}

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	out := make([]Frame, 0, n)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			out = append(out, Frame{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			break
		}
	}
	return out
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// IsCode reports whether the outermost *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	e, ok := As(err)
	if !ok {
		return ErrCodeInternal
	}
	return e.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

// PublicMessage returns the consumer-facing text for err. Uncoded errors
// collapse to a generic message so internals do not leak onto the stream.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Public()
	}
	return "internal error"
}
