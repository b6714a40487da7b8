package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"vmplane/internal/store"
)

// Append adds one immutable work-log entry and returns its position.
// Postgres rejects NUL bytes in text, so payloads are sanitized first.
func (s *Store) Append(ctx context.Context, requestID uuid.UUID, category store.LogCategory, payload string) (int64, error) {
	query := `
		INSERT INTO work_logs (request_id, category, payload)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	var position int64
	err := s.db.QueryRowContext(ctx, query, requestID, category, sanitize(payload)).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("failed to append work log for %s: %w", requestID, err)
	}
	return position, nil
}

// AppendBatch writes entries in order within one transaction, preserving
// their relative positions.
func (s *Store) AppendBatch(ctx context.Context, requestID uuid.UUID, entries []store.Appendable) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO work_logs (request_id, category, payload) VALUES ($1, $2, $3)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, requestID, e.Category, sanitize(e.Payload)); err != nil {
			return fmt.Errorf("failed to append work log batch for %s: %w", requestID, err)
		}
	}

	return tx.Commit()
}

// Read returns entries for one request with position > since, oldest first.
func (s *Store) Read(ctx context.Context, requestID uuid.UUID, since int64, limit int, category store.LogCategory) ([]store.WorkLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	args := []interface{}{requestID, since, limit}
	query := `
		SELECT id, request_id, category, payload, created_at
		FROM work_logs
		WHERE request_id = $1 AND id > $2
	`
	if category != "" {
		query += ` AND category = $4`
		args = append(args, category)
	}
	query += ` ORDER BY id ASC LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.WorkLogEntry
	for rows.Next() {
		var e store.WorkLogEntry
		if err := rows.Scan(&e.Position, &e.RequestID, &e.Category, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteAll removes one request's log partition. Bounded to that request's
// volume through the (request_id, id) index.
func (s *Store) DeleteAll(ctx context.Context, requestID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM work_logs WHERE request_id = $1`, requestID)
	return err
}

func sanitize(payload string) string {
	if strings.Contains(payload, "\x00") {
		payload = strings.ReplaceAll(payload, "\x00", "")
	}
	return payload
}
