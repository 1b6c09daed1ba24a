package main

import "errors"

// Process exit statuses.
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2 // bad flags or configuration
	exitBrowser = 3 // browser could not be launched
)

// statusError attaches a process exit status to err.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func withExitCode(err error, status int) error {
	if err == nil {
		return nil
	}
	return &statusError{status: status, err: err}
}

// exitCodeForError maps err to an exit status; errors without one exit 1.
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var se *statusError
	if errors.As(err, &se) && se.status != exitOK {
		return se.status
	}
	return exitFailure
}
