package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainflow/logindexer/internal/ingest"
	"github.com/onchainflow/logindexer/internal/pgshared"
)

var ErrInvalidConfig = errors.New("ingest/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := pgshared.EnsureSchema(ctx, s.pool, "ingest/postgres", schemaSQL); err != nil {
		return err
	}
	return nil
}

func (s *Store) GetCursor(ctx context.Context, shardID string) (uint64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var blockNumber int64
	err := s.pool.QueryRow(ctx, `
		SELECT block_number FROM infra.cursors WHERE shard_id = $1
	`, shardID).Scan(&blockNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ingest/postgres: get cursor: %w", err)
	}
	return uint64(blockNumber), nil
}

// AppendChunk inserts every event not already present, a matching
// ingest_outbox row for each, and advances the shard cursor to `to` - all
// inside one transaction, even when events is empty (an empty chunk still
// needs to move the cursor forward so the scanner doesn't re-scan an empty
// range forever).
func (s *Store) AppendChunk(ctx context.Context, shardID string, events []ingest.IngestEvent, to uint64) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("ingest/postgres: begin append chunk tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, e := range events {
		tag, err := tx.Exec(ctx, `
			INSERT INTO infra.ingest_events (
				event_id, block_number, block_hash, address, topic0, partition_key, payload, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,now())
			ON CONFLICT (event_id) DO NOTHING
		`, e.EventID, int64(e.BlockNumber), e.BlockHash[:], e.Address[:], e.Topic0[:], e.PartitionKey, []byte(e.Payload))
		if err != nil {
			return 0, fmt.Errorf("ingest/postgres: insert event %s: %w", e.EventID, err)
		}
		if tag.RowsAffected() == 1 {
			inserted++
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO infra.ingest_outbox (event_id) VALUES ($1)
			ON CONFLICT (event_id) DO NOTHING
		`, e.EventID); err != nil {
			return 0, fmt.Errorf("ingest/postgres: insert outbox %s: %w", e.EventID, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO infra.cursors (shard_id, block_number, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (shard_id) DO UPDATE
		SET block_number = $2, updated_at = now()
		WHERE infra.cursors.block_number < $2
	`, shardID, int64(to)); err != nil {
		return 0, fmt.Errorf("ingest/postgres: advance cursor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ingest/postgres: commit append chunk tx: %w", err)
	}
	return inserted, nil
}

func (s *Store) SelectUnpublished(ctx context.Context, limit int) ([]ingest.OutboxMessage, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT e.event_id, e.block_number, e.partition_key, e.payload, o.published_at
		FROM infra.ingest_outbox o
		JOIN infra.ingest_events e ON e.event_id = o.event_id
		WHERE o.published_at IS NULL
		ORDER BY e.event_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ingest/postgres: select unpublished: %w", err)
	}
	defer rows.Close()

	var out []ingest.OutboxMessage
	for rows.Next() {
		var (
			m           ingest.OutboxMessage
			blockNumber int64
			payload     []byte
		)
		if err := rows.Scan(&m.EventID, &blockNumber, &m.PartitionKey, &payload, &m.PublishedAt); err != nil {
			return nil, fmt.Errorf("ingest/postgres: scan unpublished row: %w", err)
		}
		m.BlockNumber = uint64(blockNumber)
		m.Payload = payload
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ingest/postgres: unpublished rows: %w", err)
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, eventID string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE infra.ingest_outbox SET published_at = now() WHERE event_id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("ingest/postgres: mark published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

func (s *Store) PendingOutboxCount(ctx context.Context) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM infra.ingest_outbox WHERE published_at IS NULL
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ingest/postgres: pending outbox count: %w", err)
	}
	return n, nil
}

var _ ingest.Store = (*Store)(nil)
