package browser

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnavailable      = errors.New("browser runtime unavailable")
	ErrSessionClosed    = errors.New("browser session closed")
	ErrOperationTimeout = errors.New("operation timeout")
	ErrInputMissing     = errors.New("prompt input not found")
)

// OpError records a failed page operation.
type OpError struct {
	Op       string
	Selector string
	Err      error
}

func (e *OpError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("browser %s %q: %v", e.Op, e.Selector, e.Err)
	}
	return fmt.Sprintf("browser %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapOp wraps err with the failing operation. Deadline errors are mapped to
// ErrOperationTimeout so callers can match them without importing context.
func WrapOp(op, selector string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrOperationTimeout) {
		err = fmt.Errorf("%w: %w", ErrOperationTimeout, err)
	}
	return &OpError{Op: op, Selector: selector, Err: err}
}

// IsRetryableError returns true if the error might succeed on retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrUnavailable) {
		return false
	}
	return errors.Is(err, ErrOperationTimeout) || errors.Is(err, ErrInputMissing)
}
