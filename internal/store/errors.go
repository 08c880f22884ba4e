package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (a second item with the same fingerprint, a second
	// active task for the same owner, content, and type).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransitionConflict is returned when a compare-and-swap update finds
	// the row in a different state than the caller expected. The writer should
	// treat the row as already advanced and not retry blindly.
	ErrTransitionConflict = errors.New("task state changed concurrently")

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrContentNotFound indicates that the requested content item does not exist in the store.
	ErrContentNotFound = fmt.Errorf("%w: content", ErrNotFound)

	// ErrFingerprintExists indicates that content with the same fingerprint is already stored.
	ErrFingerprintExists = fmt.Errorf("%w: fingerprint", ErrDuplicate)

	// ErrActiveTaskExists indicates a non-terminal task already exists for the
	// same owner, content, and type.
	ErrActiveTaskExists = fmt.Errorf("%w: active task", ErrDuplicate)

	// ErrContentInUse is returned when deleting content that a non-terminal task still references.
	ErrContentInUse = errors.New("content is referenced by an active task")
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
