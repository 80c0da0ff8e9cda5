// Package persistence is the durable storage layer: flow definitions, flow
// runs, conversation transcripts, NLU training samples, and user profiles.
// Grounded on the teacher's db/postgres.go for the pgx connection-pool
// shape and db/state_store.go for the JSONB-state-plus-LISTEN/NOTIFY
// pattern, rewritten around this module's own run/session/profile types
// instead of RabbitMQ message logs and workflow action checkpoints.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open establishes a pgx connection pool tuned the way the teacher tunes
// GORM's underlying sql.DB: bounded idle/open connections and a bounded
// connection lifetime so the pool recycles cleanly across PgBouncer/LB
// failovers.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 100
	cfg.MinConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables this package's stores need. A deliberately
// plain DDL runner rather than a migration framework dependency — the
// teacher's PGMigrations has the same "run CREATE TABLE IF NOT EXISTS on
// boot" shape.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flows (
			id TEXT PRIMARY KEY,
			module TEXT NOT NULL,
			trigger TEXT,
			version INT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT true,
			definition JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS flows_trigger_idx ON flows (trigger) WHERE enabled`,
		`CREATE TABLE IF NOT EXISTS flow_versions (
			id BIGSERIAL PRIMARY KEY,
			flow_id TEXT NOT NULL,
			version INT NOT NULL,
			definition JSONB NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS flow_versions_flow_idx ON flow_versions (flow_id, version DESC)`,
		`CREATE TABLE IF NOT EXISTS flow_runs (
			run_id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			context JSONB NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS flow_runs_session_idx ON flow_runs (session_id)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id BIGSERIAL PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			kind TEXT NOT NULL,
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS conversation_messages_recipient_idx ON conversation_messages (recipient_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS training_samples (
			id BIGSERIAL PRIMARY KEY,
			text TEXT NOT NULL,
			intent TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			attributes JSONB NOT NULL DEFAULT '{}',
			pending JSONB NOT NULL DEFAULT '{}',
			completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS admin_users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT,
			name TEXT,
			password_hash TEXT NOT NULL,
			roles TEXT[] NOT NULL DEFAULT '{}',
			enabled BOOLEAN NOT NULL DEFAULT true,
			locked BOOLEAN NOT NULL DEFAULT false,
			must_change_password BOOLEAN NOT NULL DEFAULT false,
			failed_logins INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_login_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS admin_refresh_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES admin_users(id) ON DELETE CASCADE,
			token TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			revoked BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE INDEX IF NOT EXISTS admin_refresh_tokens_user_idx ON admin_refresh_tokens (user_id)`,
		`CREATE TABLE IF NOT EXISTS admin_audit_logs (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
			user_id TEXT,
			username TEXT,
			action TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS admin_audit_logs_user_idx ON admin_audit_logs (user_id, timestamp)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
