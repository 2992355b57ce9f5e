package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the rule store, message and ledger tables if needed.
// It runs once during startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS schema_versions (
	id BIGSERIAL PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	xml_schema TEXT
);
CREATE TABLE IF NOT EXISTS document_fields (
	id BIGSERIAL PRIMARY KEY,
	version_id BIGINT NOT NULL REFERENCES schema_versions(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL,
	list_member TEXT NOT NULL DEFAULT '',
	tag TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS rules (
	id BIGSERIAL PRIMARY KEY,
	field_id BIGINT NOT NULL REFERENCES document_fields(id) ON DELETE CASCADE,
	version_id BIGINT NOT NULL REFERENCES schema_versions(id) ON DELETE CASCADE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_rules_version ON rules(version_id) WHERE is_active;
CREATE TABLE IF NOT EXISTS format_rules (
	id BIGSERIAL PRIMARY KEY,
	rule_id BIGINT NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
	predicate TEXT NOT NULL,
	pattern TEXT NOT NULL DEFAULT '',
	length TEXT NOT NULL DEFAULT '',
	error_template TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS requirement_rules (
	id BIGSERIAL PRIMARY KEY,
	rule_id BIGINT NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
	predicate TEXT NOT NULL,
	is_required TEXT NOT NULL,
	error_template TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS senders (
	id BIGSERIAL PRIMARY KEY,
	tax_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	file_name TEXT NOT NULL,
	version_id BIGINT NOT NULL REFERENCES schema_versions(id),
	sender_id BIGINT REFERENCES senders(id),
	declared_at TIMESTAMPTZ,
	raw_timestamp TEXT NOT NULL,
	signature TEXT NOT NULL,
	decision TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS operations (
	message_id TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
	transaction_date DATE,
	amount NUMERIC(18,2),
	currency TEXT NOT NULL,
	operation_type TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS members (
	id BIGSERIAL PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	member_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS archived_artifacts (
	message_id TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
	bucket TEXT NOT NULL,
	object_key TEXT NOT NULL,
	location TEXT NOT NULL,
	size BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS validation_errors (
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	ordinal INT NOT NULL,
	field TEXT NOT NULL,
	error_message TEXT NOT NULL,
	PRIMARY KEY (message_id, ordinal)
);
CREATE TABLE IF NOT EXISTS ingestion_jobs (
	idempotency_key TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	status TEXT NOT NULL,
	message_id TEXT REFERENCES messages(id) ON DELETE SET NULL,
	decision TEXT NOT NULL DEFAULT '',
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	notification TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingestion_jobs_status ON ingestion_jobs(status);`
