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
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrDuplicateCommission indicates that a non-terminal task already
	// exists for the given commission reference. Admission treats this as
	// a signal to return the existing task rather than create a new one.
	ErrDuplicateCommission = fmt.Errorf("%w: active commission reference", ErrDuplicate)

	// ErrNoPendingTasks is returned by ClaimNext when no pending task is
	// available to reserve.
	ErrNoPendingTasks = errors.New("no pending tasks")

	// ErrTaskNotClaimable is returned when a reserved task cannot be moved
	// to in_progress, typically because it was cancelled between the queue
	// claim and the dispatch.
	ErrTaskNotClaimable = errors.New("task is not claimable")

	// ErrTaskNotRunning is returned when a progress update targets a task
	// that is no longer in_progress. Late callbacks after a terminal
	// transition land here and are dropped by the caller.
	ErrTaskNotRunning = errors.New("task is not in progress")
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
