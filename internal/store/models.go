// Package store contains the durable state layer for vmplane: the request
// table with its atomic claim protocol and the per-request work log.
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestStatus represents the state of a Request in its lifecycle.
type RequestStatus string

const (
	StatusPending      RequestStatus = "pending"
	StatusAcknowledged RequestStatus = "acknowledged"
	StatusRunning      RequestStatus = "running"
	StatusDone         RequestStatus = "done"
	StatusCancelled    RequestStatus = "cancelled"
	StatusHold         RequestStatus = "hold"
)

// Terminal reports whether no further transition out of the status is allowed.
func (s RequestStatus) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// ParseStatus validates a status string coming from the API or CLI.
func ParseStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case StatusPending, StatusAcknowledged, StatusRunning, StatusDone, StatusCancelled, StatusHold:
		return RequestStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// LogCategory tags a work-log entry with the phase or stream it was
// observed on.
type LogCategory string

const (
	LogBoot    LogCategory = "boot"
	LogCommand LogCategory = "command"
	LogStdout  LogCategory = "stdout"
	LogStderr  LogCategory = "stderr"
)

// ParseCategory validates a category string coming from the API or CLI.
func ParseCategory(s string) (LogCategory, error) {
	switch LogCategory(s) {
	case LogBoot, LogCommand, LogStdout, LogStderr:
		return LogCategory(s), nil
	}
	return "", fmt.Errorf("%w: unknown log category %q", ErrValidation, s)
}

// FailureKind identifies why a request was cancelled by the supervisor.
// It is recorded as terminal metadata on the request row; the human-readable
// detail goes into a stderr work-log entry.
type FailureKind string

const (
	FailureVMLaunch        FailureKind = "VMLaunchFailure"
	FailureBootTimeout     FailureKind = "BootTimeout"
	FailureInactivity      FailureKind = "InactivityTimeout"
	FailureCommandDelivery FailureKind = "CommandDeliveryFailure"
	FailureProcessCrash    FailureKind = "ProcessCrash"
)

// Request is one submitted VM-execution job.
//
// The row is owned by the store and mutated only through its transition
// API; a claim moves it pending -> acknowledged for exactly one caller.
type Request struct {
	ID             uuid.UUID
	VMName         string
	Commands       string
	TimeoutSeconds int
	Status         RequestStatus

	// ClaimedBy and HeartbeatAt track the agent holding a non-terminal
	// claim. Used only by the optional stale-claim sweeper.
	ClaimedBy   *string
	HeartbeatAt *time.Time

	// Terminal metadata, written once by the finalizing transition.
	ExitCode *int
	Failure  *FailureKind

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkLogEntry is one observed event for a request. Entries are append-only
// and totally ordered per request by Position.
type WorkLogEntry struct {
	Position  int64
	RequestID uuid.UUID
	Category  LogCategory
	Payload   string
	CreatedAt time.Time
}

// Appendable is a not-yet-persisted work-log entry, used for batched writes.
type Appendable struct {
	Category LogCategory
	Payload  string
}
