// Package memory implements the store contracts in process memory.
//
// It exists for single-process development mode and for tests that exercise
// the claim protocol's concurrency properties without a database. All
// operations take one mutex, which makes every read-modify-write atomic in
// the same sense the Postgres implementation's transactions are.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vmplane/internal/store"
)

type requestLog struct {
	entries []store.WorkLogEntry
}

// Store is a mutex-guarded in-memory request and work-log store.
type Store struct {
	mu       sync.Mutex
	limits   store.Limits
	requests map[uuid.UUID]store.Request
	logs     map[uuid.UUID]*requestLog
	nextPos  int64
}

// New creates an empty in-memory store.
func New(limits store.Limits) *Store {
	return &Store{
		limits:   limits,
		requests: make(map[uuid.UUID]store.Request),
		logs:     make(map[uuid.UUID]*requestLog),
		nextPos:  1,
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) Submit(_ context.Context, vmName, commands string, timeoutSeconds int) (*store.Request, error) {
	if strings.TrimSpace(vmName) == "" {
		return nil, fmt.Errorf("%w: vm_name is required", store.ErrValidation)
	}
	if strings.TrimSpace(commands) == "" {
		return nil, fmt.Errorf("%w: commands are required", store.ErrValidation)
	}
	if timeoutSeconds <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %d", store.ErrValidation, timeoutSeconds)
	}
	if timeoutSeconds > s.limits.MaxTimeoutSeconds {
		return nil, fmt.Errorf("%w: timeout %ds exceeds maximum %ds", store.ErrValidation, timeoutSeconds, s.limits.MaxTimeoutSeconds)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	req := store.Request{
		ID:             uuid.New(),
		VMName:         vmName,
		Commands:       commands,
		TimeoutSeconds: timeoutSeconds,
		Status:         store.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.requests[req.ID] = req
	s.logs[req.ID] = &requestLog{}
	out := req
	return &out, nil
}

func (s *Store) ClaimNext(_ context.Context, agentID string) (*store.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, r := range s.requests {
		if r.Status == store.StatusAcknowledged || r.Status == store.StatusRunning {
			active++
		}
	}
	if active >= s.limits.MaxConcurrentVMs {
		return nil, nil
	}

	var candidate *store.Request
	for id := range s.requests {
		r := s.requests[id]
		if r.Status != store.StatusPending {
			continue
		}
		if candidate == nil || earlier(r, *candidate) {
			candidate = &r
		}
	}
	if candidate == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	candidate.Status = store.StatusAcknowledged
	candidate.ClaimedBy = &agentID
	candidate.HeartbeatAt = &now
	candidate.UpdatedAt = now
	s.requests[candidate.ID] = *candidate
	out := *candidate
	return &out, nil
}

// earlier orders pending requests by created_at, then id for determinism.
func earlier(a, b store.Request) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *Store) Transition(_ context.Context, id uuid.UUID, expected, next store.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, expected, next, nil, "")
}

func (s *Store) Finalize(_ context.Context, id uuid.UUID, expected, next store.RequestStatus, exitCode *int, failure store.FailureKind) error {
	if !next.Terminal() {
		return fmt.Errorf("%w: finalize target %q is not terminal", store.ErrValidation, next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, expected, next, exitCode, failure)
}

func (s *Store) transitionLocked(id uuid.UUID, expected, next store.RequestStatus, exitCode *int, failure store.FailureKind) error {
	r, ok := s.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != expected {
		return store.ErrConflict
	}
	r.Status = next
	r.UpdatedAt = time.Now().UTC()
	if exitCode != nil {
		c := *exitCode
		r.ExitCode = &c
	}
	if failure != "" {
		f := failure
		r.Failure = &f
	}
	s.requests[id] = r
	return nil
}

func (s *Store) Heartbeat(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	r.HeartbeatAt = &now
	s.requests[id] = r
	return nil
}

func (s *Store) SweepStale(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	swept := 0
	for id, r := range s.requests {
		if r.Status != store.StatusAcknowledged && r.Status != store.StatusRunning {
			continue
		}
		if r.HeartbeatAt == nil || r.HeartbeatAt.After(cutoff) {
			continue
		}
		r.Status = store.StatusPending
		r.ClaimedBy = nil
		r.HeartbeatAt = nil
		r.UpdatedAt = time.Now().UTC()
		s.requests[id] = r
		swept++
	}
	return swept, nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*store.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := r
	return &out, nil
}

func (s *Store) List(_ context.Context, status store.RequestStatus, limit int) ([]store.Request, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var requests []store.Request
	for _, r := range s.requests {
		if status != "" && r.Status != status {
			continue
		}
		requests = append(requests, r)
	}
	sort.Slice(requests, func(i, j int) bool {
		return earlier(requests[j], requests[i]) // newest first
	})
	if len(requests) > limit {
		requests = requests[:limit]
	}
	return requests, nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.requests, id)
	delete(s.logs, id)
	return nil
}

func (s *Store) CountByStatus(context.Context) (map[store.RequestStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[store.RequestStatus]int64)
	for _, r := range s.requests {
		counts[r.Status]++
	}
	return counts, nil
}

func (s *Store) Append(_ context.Context, requestID uuid.UUID, category store.LogCategory, payload string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(requestID, category, payload)
}

func (s *Store) AppendBatch(_ context.Context, requestID uuid.UUID, entries []store.Appendable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, err := s.appendLocked(requestID, e.Category, e.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendLocked(requestID uuid.UUID, category store.LogCategory, payload string) (int64, error) {
	log, ok := s.logs[requestID]
	if !ok {
		log = &requestLog{}
		s.logs[requestID] = log
	}
	pos := s.nextPos
	s.nextPos++
	log.entries = append(log.entries, store.WorkLogEntry{
		Position:  pos,
		RequestID: requestID,
		Category:  category,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return pos, nil
}

func (s *Store) Read(_ context.Context, requestID uuid.UUID, since int64, limit int, category store.LogCategory) ([]store.WorkLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[requestID]
	if !ok {
		return nil, nil
	}
	var entries []store.WorkLogEntry
	for _, e := range log.entries {
		if e.Position <= since {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		entries = append(entries, e)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (s *Store) DeleteAll(_ context.Context, requestID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, requestID)
	return nil
}
