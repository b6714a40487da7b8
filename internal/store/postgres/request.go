package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vmplane/internal/store"
)

const requestColumns = `id, vm_name, commands, timeout_seconds, status, claimed_by, heartbeat_at, exit_code, failure, created_at, updated_at`

func scanRequest(row interface{ Scan(...interface{}) error }) (*store.Request, error) {
	var r store.Request
	var failure sql.NullString
	err := row.Scan(
		&r.ID, &r.VMName, &r.Commands, &r.TimeoutSeconds, &r.Status,
		&r.ClaimedBy, &r.HeartbeatAt, &r.ExitCode, &failure,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if failure.Valid {
		kind := store.FailureKind(failure.String)
		r.Failure = &kind
	}
	return &r, nil
}

// Submit creates a request in pending state after validating it.
func (s *Store) Submit(ctx context.Context, vmName, commands string, timeoutSeconds int) (*store.Request, error) {
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

	id := uuid.New()
	query := `
		INSERT INTO requests (id, vm_name, commands, timeout_seconds, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + requestColumns

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, id, vmName, commands, timeoutSeconds, store.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to submit request: %w", err)
	}
	return req, nil
}

// Transition performs the optimistic compare-and-update of the status.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, expected, next store.RequestStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, expected, next)
	if err != nil {
		return fmt.Errorf("transition %s -> %s failed: %w", expected, next, err)
	}
	return s.transitionOutcome(ctx, res, id)
}

// Finalize is Transition into a terminal status plus terminal metadata.
func (s *Store) Finalize(ctx context.Context, id uuid.UUID, expected, next store.RequestStatus, exitCode *int, failure store.FailureKind) error {
	if !next.Terminal() {
		return fmt.Errorf("%w: finalize target %q is not terminal", store.ErrValidation, next)
	}
	var failureVal sql.NullString
	if failure != "" {
		failureVal = sql.NullString{String: string(failure), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status = $3, exit_code = $4, failure = $5, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, expected, next, exitCode, failureVal)
	if err != nil {
		return fmt.Errorf("finalize %s -> %s failed: %w", expected, next, err)
	}
	return s.transitionOutcome(ctx, res, id)
}

// transitionOutcome distinguishes a lost race from a missing row when the
// conditional update touched nothing.
func (s *Store) transitionOutcome(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// Heartbeat refreshes the claim liveness timestamp.
func (s *Store) Heartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET heartbeat_at = NOW() WHERE id = $1
	`, id)
	return err
}

// SweepStale reclaims acknowledged/running rows whose owning agent has not
// heartbeated within the threshold. Crash-recovery extension; disabled
// unless the agent config turns it on.
func (s *Store) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status = $1, claimed_by = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE status IN ($2, $3)
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - ($4 * INTERVAL '1 second')
	`, store.StatusPending, store.StatusAcknowledged, store.StatusRunning, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("stale claim sweep failed: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*store.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	req, err := scanRequest(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) List(ctx context.Context, status store.RequestStatus, limit int) ([]store.Request, error) {
	if limit <= 0 {
		limit = 50
	}

	args := []interface{}{limit}
	query := `SELECT ` + requestColumns + ` FROM requests`
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []store.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// Delete removes the request; the work-log partition goes with it through
// the ON DELETE CASCADE relation.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[store.RequestStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[store.RequestStatus]int64)
	for rows.Next() {
		var status store.RequestStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
