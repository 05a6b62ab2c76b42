package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is.
var (
	// ErrValidation covers bad input: wrong format, oversized file, missing fields.
	// Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on unique-key conflicts.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when an operation is attempted in the wrong state,
	// for example retrying a job that is not failed.
	ErrConflict = errors.New("state conflict")

	// ErrUnauthorized covers ownership violations.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrProcessing covers non-retryable pipeline failures (invalid PDF,
	// extraction failure, missing model).
	ErrProcessing = errors.New("processing error")

	// ErrTransient covers storage/database connection failures. Retried with
	// backoff inside the owning component before escalating.
	ErrTransient = errors.New("transient error")

	// ErrRateLimited is surfaced with a Retry-After hint.
	ErrRateLimited = errors.New("rate limited")
)

// StateError reports an operation attempted in the wrong job state.
type StateError struct {
	Current  string
	Required string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state %q, requires %q", e.Current, e.Required)
}

func (e *StateError) Unwrap() error { return ErrConflict }

// NewStateError builds a StateError for the business-logic taxonomy.
func NewStateError(current, required string) error {
	return &StateError{Current: current, Required: required}
}

// IsRetryable reports whether the error is worth retrying. Transient storage
// and rate-limit errors are; validation, not-found, and processing errors
// are surfaced immediately.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
