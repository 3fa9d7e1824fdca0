package indexermodel

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the indexer does not exist.
	ErrNotFound = errors.New("indexer not found")

	// ErrConflict indicates the record changed since it was read.
	ErrConflict = errors.New("indexer record version conflict")

	// ErrLockUnavailable indicates the lock could not be acquired in time.
	ErrLockUnavailable = errors.New("indexer lock unavailable")

	// ErrDeletePending indicates a delete workflow owns the indexer and the
	// caller did not ask for an internal lock.
	ErrDeletePending = errors.New("indexer delete pending")

	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("indexer store unavailable")
)

// StoreError wraps a store failure with the operation and indexer involved.
type StoreError struct {
	// Op is the operation that failed (e.g., "Lock", "Update").
	Op string

	// Indexer is the indexer name, if applicable.
	Indexer string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Indexer != "" {
		return fmt.Sprintf("indexer store %s %s: %v", e.Op, e.Indexer, e.Err)
	}
	return fmt.Sprintf("indexer store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates the indexer does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsLockUnavailable returns true if the error indicates lock contention or timeout.
func IsLockUnavailable(err error) bool {
	return errors.Is(err, ErrLockUnavailable)
}

// IsDeletePending returns true if the error indicates a pending delete blocked the lock.
func IsDeletePending(err error) bool {
	return errors.Is(err, ErrDeletePending)
}

func storeErr(op, name string, err error) error {
	return &StoreError{Op: op, Indexer: name, Err: err}
}
