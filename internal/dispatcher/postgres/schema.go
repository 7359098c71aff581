package postgres

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS infra;

CREATE TABLE IF NOT EXISTS infra.inbox (
	event_id TEXT NOT NULL REFERENCES infra.ingest_events (event_id),
	handler_kind TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'ACK', 'FAIL', 'DLQ')),
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	block_number BIGINT NOT NULL,
	partition_key TEXT NOT NULL,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_attempt_at TIMESTAMPTZ,

	PRIMARY KEY (event_id, handler_kind),
	CONSTRAINT inbox_block_number_nonneg CHECK (block_number >= 0),
	CONSTRAINT inbox_attempts_nonneg CHECK (attempts >= 0)
);

CREATE INDEX IF NOT EXISTS inbox_status_partition_idx ON infra.inbox (handler_kind, status, partition_key);
CREATE INDEX IF NOT EXISTS inbox_block_number_idx ON infra.inbox (handler_kind, block_number);
`
