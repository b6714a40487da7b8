package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vmplane/internal/store"
)

// claimLockKey serializes claim attempts across all agents so the active
// count and the conditional update commit as one unit. The lock is
// transaction-scoped and released at commit/rollback.
const claimLockKey = 0x766d636c // "vmcl"

// ClaimNext atomically claims the oldest pending request for agentID.
//
// The whole operation is one transaction: an advisory lock serializes
// concurrent claimers, the active count enforces the admission cap, the
// candidate row is taken with FOR UPDATE SKIP LOCKED and only flipped if it
// is still pending. Two agents can never both receive the same row.
func (s *Store) ClaimNext(ctx context.Context, agentID string) (*store.Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, claimLockKey); err != nil {
		return nil, fmt.Errorf("claim lock failed: %w", err)
	}

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requests WHERE status IN ($1, $2)
	`, store.StatusAcknowledged, store.StatusRunning).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("active count failed: %w", err)
	}
	if active >= s.limits.MaxConcurrentVMs {
		return nil, nil
	}

	query := `
		UPDATE requests
		SET status = $1, claimed_by = $2, heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM requests
			WHERE status = $3
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		) AND status = $3
		RETURNING ` + requestColumns

	req, err := scanRequest(tx.QueryRowContext(ctx, query,
		store.StatusAcknowledged, agentID, store.StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return req, nil
}
