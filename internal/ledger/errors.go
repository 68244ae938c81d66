package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrLocked is matched by every LockError.
	ErrLocked = errors.New("ledger locked")

	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("ledger configuration error")

	// ErrExists is returned when creating a ledger that already exists.
	ErrExists = errors.New("ledger already exists")
)

// NotFoundError reports an unknown batch, unit or ledger resource.
type NotFoundError struct {
	Kind string // "batch", "unit", "quality ledger"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// LockError reports that a ledger stayed locked by another writer for the
// whole retry budget. It is transient; callers may try again later.
type LockError struct {
	Path string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("ledger %s is locked by another writer: %v", e.Path, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

func (e *LockError) Is(target error) bool { return target == ErrLocked }

// ConfigurationError reports a required ledger resource missing at startup.
type ConfigurationError struct {
	Resource string
	Path     string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s %s unavailable: %v", e.Resource, e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
