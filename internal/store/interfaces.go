package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Limits are the store-enforced admission and validation bounds.
type Limits struct {
	// MaxConcurrentVMs caps how many requests may be acknowledged or
	// running at once, across all agents. ClaimNext returns nothing once
	// the cap is reached, regardless of backlog.
	MaxConcurrentVMs int

	// MaxTimeoutSeconds is the ceiling for a request's timeout_seconds.
	MaxTimeoutSeconds int
}

// RequestStore is the durable request table with its atomic claim primitive.
type RequestStore interface {
	// Submit creates a request in pending state. Returns ErrValidation if
	// vmName or commands are empty, or timeoutSeconds is non-positive or
	// above the configured ceiling.
	Submit(ctx context.Context, vmName, commands string, timeoutSeconds int) (*Request, error)

	// ClaimNext atomically selects the oldest pending request (created_at,
	// then id) and moves it to acknowledged. Returns (nil, nil) when the
	// queue is empty or the concurrency cap is reached. Concurrent callers
	// never both succeed on the same row.
	ClaimNext(ctx context.Context, agentID string) (*Request, error)

	// Transition moves the request from expected to next iff the row still
	// has the expected status. Returns ErrConflict on a lost race and
	// ErrNotFound if the row is gone.
	Transition(ctx context.Context, id uuid.UUID, expected, next RequestStatus) error

	// Finalize is Transition into a terminal status, additionally recording
	// the process exit code and the failure kind (empty for a clean done).
	Finalize(ctx context.Context, id uuid.UUID, expected, next RequestStatus, exitCode *int, failure FailureKind) error

	// Heartbeat refreshes the claim liveness timestamp for the request.
	Heartbeat(ctx context.Context, id uuid.UUID) error

	// SweepStale resets acknowledged/running requests whose heartbeat is
	// older than the threshold back to pending, returning how many rows
	// were reclaimed. This is the crash-recovery extension; it is never
	// called unless explicitly enabled.
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)

	Get(ctx context.Context, id uuid.UUID) (*Request, error)

	// List returns requests newest first, optionally filtered by status
	// (empty string means all).
	List(ctx context.Context, status RequestStatus, limit int) ([]Request, error)

	// Delete removes the request and cascades to its work-log partition.
	Delete(ctx context.Context, id uuid.UUID) error

	// CountByStatus returns the number of requests per status.
	CountByStatus(ctx context.Context) (map[RequestStatus]int64, error)
}

// WorkLogStore is the per-request append-only event log.
type WorkLogStore interface {
	// Append adds one immutable entry and returns its store-assigned
	// position, strictly increasing within the request.
	Append(ctx context.Context, requestID uuid.UUID, category LogCategory, payload string) (int64, error)

	// AppendBatch adds entries in order as one write. Used by the
	// supervisor's flush cadence.
	AppendBatch(ctx context.Context, requestID uuid.UUID, entries []Appendable) error

	// Read returns entries in insertion order with position > since,
	// optionally filtered by category (empty means all). Passing the last
	// seen position enables incremental tail reads.
	Read(ctx context.Context, requestID uuid.UUID, since int64, limit int, category LogCategory) ([]WorkLogEntry, error)

	// DeleteAll removes the request's whole log partition.
	DeleteAll(ctx context.Context, requestID uuid.UUID) error
}

// Store combines everything the controller and agents need.
type Store interface {
	RequestStore
	WorkLogStore
	Ping(ctx context.Context) error
	Close() error
}
