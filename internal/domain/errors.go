package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an item does not exist
	ErrNotFound = errors.New("item not found")

	// ErrValidation wraps input validation failures
	ErrValidation = errors.New("validation failed")

	// ErrPoolShutdown is the cause of coordination errors raised by a stopped worker pool
	ErrPoolShutdown = errors.New("worker pool is shut down")
)

// PersistenceError reports a failed store access for a single item
type PersistenceError struct {
	ID  ItemID
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s item %d: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InterruptionError reports a task cancelled before it reached the store
type InterruptionError struct {
	ID  ItemID
	Err error
}

func (e *InterruptionError) Error() string {
	return fmt.Sprintf("item %d interrupted: %v", e.ID, e.Err)
}

func (e *InterruptionError) Unwrap() error { return e.Err }

// CoordinationError is the only error a batch run returns to its caller
type CoordinationError struct {
	BatchID string
	Err     error
}

func (e *CoordinationError) Error() string {
	if e.BatchID == "" {
		return fmt.Sprintf("batch coordination failed: %v", e.Err)
	}
	return fmt.Sprintf("batch %s coordination failed: %v", e.BatchID, e.Err)
}

func (e *CoordinationError) Unwrap() error { return e.Err }

// IsCoordinationError reports whether err is or wraps a CoordinationError
func IsCoordinationError(err error) bool {
	var ce *CoordinationError
	return errors.As(err, &ce)
}
