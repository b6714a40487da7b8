// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// SubmitRequest is the request body for submitting a VM execution request.
type SubmitRequest struct {
	VMName   string `json:"vm_name"`
	Commands string `json:"commands"`
	// TimeoutSeconds is the rolling inactivity window. Zero means the
	// server default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// SubmitResponse is the response body after submitting a request.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// RequestResponse represents one execution request in API responses.
type RequestResponse struct {
	ID             string     `json:"id"`
	VMName         string     `json:"vm_name"`
	Commands       string     `json:"commands"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	Status         string     `json:"status"`
	ClaimedBy      *string    `json:"claimed_by,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	Failure        *string    `json:"failure,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
}

// ListRequestsResponse is the response body for request listings.
type ListRequestsResponse struct {
	Requests []RequestResponse `json:"requests"`
}

// UpdateStatusRequest is the request body for external status transitions
// (cancel, hold, release).
type UpdateStatusRequest struct {
	// Expected guards the transition: it fails with a conflict when the
	// current status no longer matches. Empty means the caller accepts the
	// current non-terminal status.
	Expected string `json:"expected,omitempty"`
	Status   string `json:"status"`
}

// LogEntryResponse is one work log entry.
type LogEntryResponse struct {
	Position  int64     `json:"position"`
	Category  string    `json:"category"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// LogsResponse is the response body for work log reads. NextSince is the
// cursor to pass as ?since= on the next poll.
type LogsResponse struct {
	RequestID string             `json:"request_id"`
	Entries   []LogEntryResponse `json:"entries"`
	NextSince int64              `json:"next_since"`
}

// QueueStatsResponse reports request counts per status.
type QueueStatsResponse struct {
	Counts map[string]int64 `json:"counts"`
}

// HealthResponse is the response body for health checks.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
