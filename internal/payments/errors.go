package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means real mode was selected without processor credentials.
	ErrNotConfigured = errors.New("payments: hold authority not configured")
	// ErrAlreadyCaptured is returned when a hold was already settled.
	ErrAlreadyCaptured = errors.New("payments: hold already captured")
	// ErrAlreadyCanceled is returned when a hold was already released.
	ErrAlreadyCanceled = errors.New("payments: hold already canceled")
	// ErrUnexpectedState is matched by every *UnexpectedStateError.
	ErrUnexpectedState = errors.New("payments: hold in unexpected state")
	// ErrUnavailable covers network failures, timeouts and 5xx answers. Retryable.
	ErrUnavailable = errors.New("payments: authority unavailable")
	// ErrRejected covers 4xx answers. Not retryable.
	ErrRejected = errors.New("payments: authority rejected request")
	// ErrHoldNotFound is returned when the authority has no hold with the given id.
	ErrHoldNotFound = errors.New("payments: hold not found")
)

// UnexpectedStateError carries the status the hold was actually in.
type UnexpectedStateError struct {
	Op     string
	Actual HoldStatus
}

func (e *UnexpectedStateError) Error() string {
	return fmt.Sprintf("payments: cannot %s hold in status %s", e.Op, e.Actual)
}

func (e *UnexpectedStateError) Is(target error) bool {
	return target == ErrUnexpectedState
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
