package consolidate

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is matched by every StateError.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrRejected is matched by every RejectedError.
	ErrRejected = errors.New("candidate rejected")

	// ErrDuplicateUnit is returned when a unit already occupies a slot of the session.
	ErrDuplicateUnit = errors.New("unit already in session")

	// ErrSessionNotFound is returned for an unknown or closed session handle.
	ErrSessionNotFound = errors.New("session not found")
)

// StateError reports an operation attempted in the wrong session state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s a session that is %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// RejectedError reports a candidate that failed validation.
type RejectedError struct {
	Unit   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Unit, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }
