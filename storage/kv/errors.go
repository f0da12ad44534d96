package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a missing or unusable configuration item
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidArgument indicates that a required argument was nil or empty
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound indicates that the key does not exist
	ErrNotFound = errors.New("key not found")
	// ErrEmptyValue indicates that a key is present but its value is empty
	ErrEmptyValue = errors.New("value is empty")
	// ErrCapacityExceeded is returned when adding to a full group
	ErrCapacityExceeded = errors.New("group capacity exceeded")
	// ErrIndexOutOfRange is returned when accessing a group slot past its length
	ErrIndexOutOfRange = errors.New("group index out of range")
	// ErrNoMoreEntries marks the end of an iteration. It is a terminal
	// condition rather than a failure.
	ErrNoMoreEntries = errors.New("no more entries")
	// ErrAllocation indicates that a backend could not allocate a buffer
	ErrAllocation = errors.New("allocation failed")
	// ErrIndexExists is returned when creating an index that already exists
	ErrIndexExists = errors.New("index already exists")
	// ErrNoSuchIndex indicates that the index doesn't exist. Either it hasn't been created or was deleted
	ErrNoSuchIndex = errors.New("index does not exist")
	// ErrTransactionInProgress is returned when beginning a second transaction on an index
	ErrTransactionInProgress = errors.New("transaction already in progress")
	// ErrNoTransaction is returned when ending or discarding a transaction that was never begun
	ErrNoTransaction = errors.New("no transaction in progress")
	// ErrClosed indicates that the backend was finalized
	ErrClosed = errors.New("backend was closed")
)

var sentinels = []error{
	ErrInvalidConfig,
	ErrInvalidArgument,
	ErrNotFound,
	ErrEmptyValue,
	ErrCapacityExceeded,
	ErrIndexOutOfRange,
	ErrNoMoreEntries,
	ErrAllocation,
	ErrIndexExists,
	ErrNoSuchIndex,
	ErrTransactionInProgress,
	ErrNoTransaction,
	ErrClosed,
}

// IsSentinel reports whether err is one of the errors
// defined by this package, possibly wrapped.
func IsSentinel(err error) bool {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}

// WrapError adds context to a backend failure. Errors from this
// package's taxonomy are returned unchanged so that callers can keep
// comparing them directly.
func WrapError(wrap string, err error) error {
	if err == nil || IsSentinel(err) {
		return err
	}

	return fmt.Errorf("%s: %w", wrap, err)
}
