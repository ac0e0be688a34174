// Package audit records delivery attempts for operator visibility.
// This is pure observability: per SPEC_FULL.md §3, the bridge's
// correctness invariants never depend on the audit store being
// reachable, so every Store method swallows nothing from the caller's
// perspective except by returning an error the caller is expected to
// log and ignore.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Attempt is one delivery attempt, successful or not.
type Attempt struct {
	ID          uuid.UUID
	Topic       string
	URL         string
	StatusCode  int
	ErrMessage  string
	AttemptedAt time.Time
}

// Store persists delivery attempts.
type Store interface {
	Record(ctx context.Context, a Attempt) error
	Close()
}

// PostgresStore is a Store backed by pgxpool, modeled on the teacher's
// shared/pkg/database connection pool conventions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the delivery_attempts
// table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	const schema = `
CREATE TABLE IF NOT EXISTS delivery_attempts (
	id           UUID PRIMARY KEY,
	topic        TEXT NOT NULL,
	url          TEXT NOT NULL,
	status_code  INTEGER NOT NULL,
	err_message  TEXT NOT NULL DEFAULT '',
	attempted_at TIMESTAMPTZ NOT NULL
)`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Record inserts one attempt row, generating its primary key the way the
// fleet's services generate every domain row's ID: application-side, before
// the insert, rather than leaving it to the database.
func (s *PostgresStore) Record(ctx context.Context, a Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	const stmt = `
INSERT INTO delivery_attempts (id, topic, url, status_code, err_message, attempted_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, stmt, a.ID, a.Topic, a.URL, a.StatusCode, a.ErrMessage, a.AttemptedAt)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// NoopStore discards every attempt. Used when --audit-dsn is empty.
type NoopStore struct{}

func (NoopStore) Record(ctx context.Context, a Attempt) error { return nil }
func (NoopStore) Close()                                      {}
