package postgres

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS infra;

CREATE TABLE IF NOT EXISTS infra.cursors (
	shard_id TEXT PRIMARY KEY,
	block_number BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT cursors_block_number_nonneg CHECK (block_number >= 0)
);

CREATE TABLE IF NOT EXISTS infra.ingest_events (
	event_id TEXT PRIMARY KEY,
	block_number BIGINT NOT NULL,
	block_hash BYTEA NOT NULL,
	address BYTEA NOT NULL,
	topic0 BYTEA NOT NULL,
	partition_key TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT ingest_events_block_hash_len CHECK (octet_length(block_hash) = 32),
	CONSTRAINT ingest_events_address_len CHECK (octet_length(address) = 20),
	CONSTRAINT ingest_events_topic0_len CHECK (octet_length(topic0) = 32),
	CONSTRAINT ingest_events_block_number_nonneg CHECK (block_number >= 0)
);

CREATE INDEX IF NOT EXISTS ingest_events_address_topic0_block_idx ON infra.ingest_events (address, topic0, block_number);
CREATE INDEX IF NOT EXISTS ingest_events_block_number_idx ON infra.ingest_events (block_number);
CREATE INDEX IF NOT EXISTS ingest_events_partition_key_block_idx ON infra.ingest_events (partition_key, block_number);

CREATE TABLE IF NOT EXISTS infra.ingest_outbox (
	event_id TEXT PRIMARY KEY REFERENCES infra.ingest_events (event_id),
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS ingest_outbox_unpublished_idx ON infra.ingest_outbox (event_id) WHERE published_at IS NULL;
`
