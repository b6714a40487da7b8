package store

import "errors"

var (
	// ErrValidation rejects a bad submission before anything is persisted.
	ErrValidation = errors.New("validation error")

	// ErrConflict means an optimistic transition lost a race: the row's
	// status no longer matches the expected one. Non-fatal; the caller
	// re-reads and decides.
	ErrConflict = errors.New("store conflict")

	// ErrNotFound means the request does not exist.
	ErrNotFound = errors.New("request not found")
)
