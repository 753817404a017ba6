// Package postgres opens the shared database handle and bootstraps the
// schema the stores expect.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects via the pgx stdlib driver and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Schema is the DDL for all tables owned by this service.
//
// Two partial unique indexes carry correctness guarantees the services rely
// on rather than re-checking defensively:
//   - uq_analysis_jobs_active: at most one non-terminal job per
//     (tenant, entity, kind), the queue gateway's admission-time dedupe
//   - uq_alerts_open_key: at most one open alert per (tenant, source, window),
//     keeping alert generation idempotent under concurrent evaluation
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contracts (
	id              UUID PRIMARY KEY,
	tenant_id       UUID NOT NULL,
	filename        TEXT NOT NULL,
	mime_type       TEXT NOT NULL,
	file_hash       TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL DEFAULT 0,
	page_count      INT NOT NULL DEFAULT 0,
	contract_type   TEXT,
	status          TEXT NOT NULL,
	encrypted_text  TEXT NOT NULL DEFAULT '',
	created_by      UUID,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, file_hash)
);

CREATE TABLE IF NOT EXISTS contract_analyses (
	id              UUID PRIMARY KEY,
	tenant_id       UUID NOT NULL,
	contract_id     UUID NOT NULL REFERENCES contracts(id),
	risk_score      INT NOT NULL,
	risk_level      TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	recommendations JSONB NOT NULL DEFAULT '[]',
	findings        JSONB NOT NULL DEFAULT '[]',
	ai_model        TEXT NOT NULL DEFAULT '',
	input_tokens    INT NOT NULL DEFAULT 0,
	output_tokens   INT NOT NULL DEFAULT 0,
	cost_cents      INT NOT NULL DEFAULT 0,
	processing_ms   BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_jobs (
	id           UUID PRIMARY KEY,
	tenant_id    UUID NOT NULL,
	entity_id    UUID NOT NULL,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL,
	retry_count  INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 3,
	last_error   TEXT NOT NULL DEFAULT '',
	run_at       TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_analysis_jobs_active
	ON analysis_jobs (tenant_id, entity_id, kind)
	WHERE status IN ('pending', 'processing', 'retry_scheduled');

CREATE TABLE IF NOT EXISTS contract_deadlines (
	id            UUID PRIMARY KEY,
	tenant_id     UUID NOT NULL,
	contract_id   UUID NOT NULL,
	deadline_type TEXT NOT NULL,
	deadline_date DATE NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_verified   BOOLEAN NOT NULL DEFAULT FALSE,
	status        TEXT NOT NULL DEFAULT 'active',
	source_clause TEXT NOT NULL DEFAULT '',
	reminder_days INT NOT NULL DEFAULT 30,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_deadlines_tenant_status
	ON contract_deadlines (tenant_id, status, deadline_date);

CREATE TABLE IF NOT EXISTS proactive_alerts (
	id                  UUID PRIMARY KEY,
	tenant_id           UUID NOT NULL,
	source_type         TEXT NOT NULL,
	source_id           UUID NOT NULL,
	window_key          TEXT NOT NULL,
	alert_type          TEXT NOT NULL,
	severity            TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'new',
	title               TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	recommendation      TEXT NOT NULL DEFAULT '',
	recommended_actions JSONB NOT NULL DEFAULT '[]',
	related_contract_id UUID,
	due_date            DATE,
	snoozed_until       TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_alerts_open_key
	ON proactive_alerts (tenant_id, source_type, source_id, window_key)
	WHERE status IN ('new', 'seen', 'in_progress');

CREATE TABLE IF NOT EXISTS risk_snapshots (
	id                  UUID PRIMARY KEY,
	tenant_id           UUID NOT NULL,
	snapshot_date       DATE NOT NULL,
	contracts_score     INT NOT NULL,
	partners_score      INT NOT NULL,
	compliance_score    INT NOT NULL,
	deadlines_score     INT NOT NULL,
	overall_score       INT NOT NULL,
	trend               TEXT NOT NULL,
	contract_count      INT NOT NULL DEFAULT 0,
	high_risk_contracts INT NOT NULL DEFAULT 0,
	pending_deadlines   INT NOT NULL DEFAULT 0,
	open_alerts         INT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, snapshot_date)
);

CREATE TABLE IF NOT EXISTS risk_signals (
	tenant_id  UUID NOT NULL,
	category   TEXT NOT NULL,
	score      INT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, category)
);
`

// EnsureSchema applies the DDL. Safe to run on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
