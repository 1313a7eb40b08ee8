package panel

import (
	"errors"
	"fmt"
)

// ErrNotConfirmed is returned by destructive operations called without the
// user's confirmation.
var ErrNotConfirmed = errors.New("confirmation required")

// ErrBusy is returned when the same operation is already in flight.
var ErrBusy = errors.New("operation already in progress")

// ValidationError is a precondition failure caught before any request. It is
// meant to be shown next to the offending control, never as a notice.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PartialError reports a multi-step operation that completed some steps
// before one failed, leaving a recoverable state.
type PartialError struct {
	Done   string
	Failed string
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s but failed to %s: %v", e.Done, e.Failed, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }
