// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"vmplane/internal/store"
)

// Store provides PostgreSQL-backed implementations of the request and
// work-log stores.
type Store struct {
	db     *sql.DB
	limits store.Limits
}

// New opens a connection pool to PostgreSQL and verifies it.
func New(ctx context.Context, databaseURL string, limits store.Limits) (*Store, error) {
	if limits.MaxConcurrentVMs <= 0 {
		return nil, fmt.Errorf("max_concurrent_vms must be positive, got %d", limits.MaxConcurrentVMs)
	}
	if limits.MaxTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("max_timeout must be positive, got %d", limits.MaxTimeoutSeconds)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, limits: limits}, nil
}

// DB exposes the underlying pool for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
