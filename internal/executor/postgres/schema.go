package postgres

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS domain;

CREATE TABLE IF NOT EXISTS domain.domain_outbox (
	command_key TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'DONE', 'FAILED')),
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	tx_hash TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	executed_at TIMESTAMPTZ,

	CONSTRAINT domain_outbox_attempts_nonneg CHECK (attempts >= 0)
);

CREATE INDEX IF NOT EXISTS domain_outbox_unpublished_idx ON domain.domain_outbox (command_key) WHERE executed_at IS NULL;
`
