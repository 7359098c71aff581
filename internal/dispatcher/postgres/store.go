package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainflow/logindexer/internal/dispatcher"
	"github.com/onchainflow/logindexer/internal/inbox"
	"github.com/onchainflow/logindexer/internal/pgshared"
)

var ErrInvalidConfig = errors.New("dispatcher/postgres: invalid config")

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
	if err := pgshared.EnsureSchema(ctx, s.pool, "dispatcher/postgres", schemaSQL); err != nil {
		return err
	}
	return nil
}

// RunBatch implements the dispatcher's select-claim-handle-settle cycle as
// a single transaction. The select+claim step is one SQL statement (a CTE
// that selects events with no inbox row or a PENDING one, inserts PENDING
// inbox rows, locks an existing row only while it is still PENDING, and
// returns only the rows this call inserted or locked) so that two dispatcher workers racing on an overlapping
// selector each see a disjoint claimed set, mirroring the teacher's
// ClaimConfirmed/FinalizeBatch lock-then-update transactions.
func (s *Store) RunBatch(ctx context.Context, handlerKind, selector string, batchSize, maxAttempts int, handle dispatcher.Handler) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("dispatcher/postgres: begin run batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		WITH candidates AS (
			SELECT e.event_id, e.block_number, e.address, e.topic0, e.partition_key, e.payload
			FROM infra.ingest_events e
			JOIN infra.ingest_outbox o ON o.event_id = e.event_id
			WHERE o.published_at IS NOT NULL
				AND e.partition_key LIKE $1 || '%'
				AND NOT EXISTS (
					SELECT 1 FROM infra.inbox i
					WHERE i.event_id = e.event_id AND i.handler_kind = $2 AND i.status <> 'PENDING'
				)
			ORDER BY e.block_number ASC
			LIMIT $3
		),
		claimed AS (
			INSERT INTO infra.inbox (event_id, handler_kind, status, attempts, block_number, partition_key, first_seen_at)
			SELECT event_id, $2, 'PENDING', 0, block_number, partition_key, now() FROM candidates
			ON CONFLICT (event_id, handler_kind) DO UPDATE SET status = infra.inbox.status
				WHERE infra.inbox.status = 'PENDING'
			RETURNING event_id
		)
		SELECT c.event_id, c.block_number, c.address, c.topic0, c.partition_key, c.payload
		FROM candidates c
		JOIN claimed cl ON cl.event_id = c.event_id
		ORDER BY c.block_number ASC
	`, selector, handlerKind, batchSize)
	if err != nil {
		return 0, fmt.Errorf("dispatcher/postgres: select and claim: %w", err)
	}

	var events []dispatcher.Event
	for rows.Next() {
		var (
			blockNumber int64
			addressRaw  []byte
			topic0Raw   []byte
			payload     []byte
			e           dispatcher.Event
		)
		if err := rows.Scan(&e.EventID, &blockNumber, &addressRaw, &topic0Raw, &e.PartitionKey, &payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("dispatcher/postgres: scan claimed row: %w", err)
		}
		e.BlockNumber = uint64(blockNumber)
		e.Address = common.BytesToAddress(addressRaw)
		e.Topic0 = common.BytesToHash(topic0Raw)
		e.Payload = payload
		events = append(events, e)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return 0, fmt.Errorf("dispatcher/postgres: claimed rows: %w", rowsErr)
	}
	if len(events) == 0 {
		return 0, nil
	}

	handleErr := handle(ctx, tx, events)

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.EventID
	}

	if handleErr == nil {
		if _, err := tx.Exec(ctx, `
			UPDATE infra.inbox
			SET status = 'ACK', attempts = attempts + 1, last_attempt_at = now(), last_error = NULL
			WHERE handler_kind = $1 AND event_id = ANY($2)
		`, handlerKind, ids); err != nil {
			return 0, fmt.Errorf("dispatcher/postgres: settle ack: %w", err)
		}
	} else {
		lastError := truncateRunes(handleErr.Error(), inbox.MaxErrorLen)
		if _, err := tx.Exec(ctx, `
			UPDATE infra.inbox
			SET
				attempts = attempts + 1,
				last_attempt_at = now(),
				last_error = $3,
				status = CASE WHEN attempts + 1 >= $4 THEN 'DLQ' ELSE 'FAIL' END
			WHERE handler_kind = $1 AND event_id = ANY($2)
		`, handlerKind, ids, lastError, maxAttempts); err != nil {
			return 0, fmt.Errorf("dispatcher/postgres: settle fail: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("dispatcher/postgres: commit run batch tx: %w", err)
	}
	return len(events), nil
}

// ReplayRange walks every published event in [from, to] and either inserts
// a fresh PENDING inbox row (event never seen by handlerKind) or resets an
// existing one back to PENDING (event already claimed, possibly ACK/FAIL/
// DLQ). It reports (inserted, reset) counts, issuing its queries one event
// at a time inside a single transaction.
func (s *Store) ReplayRange(ctx context.Context, handlerKind string, from, to uint64) (int, int, error) {
	if s == nil || s.pool == nil {
		return 0, 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("dispatcher/postgres: begin replay range tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT e.event_id, e.block_number, e.partition_key
		FROM infra.ingest_events e
		JOIN infra.ingest_outbox o ON o.event_id = e.event_id
		WHERE o.published_at IS NOT NULL AND e.block_number BETWEEN $1 AND $2
	`, int64(from), int64(to))
	if err != nil {
		return 0, 0, fmt.Errorf("dispatcher/postgres: select replay candidates: %w", err)
	}
	type candidate struct {
		eventID      string
		blockNumber  int64
		partitionKey string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.eventID, &c.blockNumber, &c.partitionKey); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("dispatcher/postgres: scan replay candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return 0, 0, fmt.Errorf("dispatcher/postgres: replay candidate rows: %w", rowsErr)
	}

	var inserted, reset int
	for _, c := range candidates {
		tag, err := tx.Exec(ctx, `
			INSERT INTO infra.inbox (event_id, handler_kind, status, attempts, block_number, partition_key, first_seen_at)
			VALUES ($1,$2,'PENDING',0,$3,$4,now())
			ON CONFLICT (event_id, handler_kind) DO NOTHING
		`, c.eventID, handlerKind, c.blockNumber, c.partitionKey)
		if err != nil {
			return 0, 0, fmt.Errorf("dispatcher/postgres: insert replay row %s: %w", c.eventID, err)
		}
		if tag.RowsAffected() == 1 {
			inserted++
			continue
		}
		resetTag, err := tx.Exec(ctx, `
			UPDATE infra.inbox SET status = 'PENDING', last_error = NULL
			WHERE event_id = $1 AND handler_kind = $2
		`, c.eventID, handlerKind)
		if err != nil {
			return 0, 0, fmt.Errorf("dispatcher/postgres: reset replay row %s: %w", c.eventID, err)
		}
		reset += int(resetTag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("dispatcher/postgres: commit replay range tx: %w", err)
	}
	return inserted, reset, nil
}

func (s *Store) ResetFailed(ctx context.Context, handlerKind string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE infra.inbox
		SET status = 'PENDING', last_error = NULL
		WHERE handler_kind = $1 AND status = 'FAIL'
	`, handlerKind)
	if err != nil {
		return 0, fmt.Errorf("dispatcher/postgres: reset failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CountsByStatus(ctx context.Context, handlerKind string) (map[inbox.Status]int, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM infra.inbox WHERE handler_kind = $1 GROUP BY status
	`, handlerKind)
	if err != nil {
		return nil, fmt.Errorf("dispatcher/postgres: counts by status: %w", err)
	}
	defer rows.Close()

	out := make(map[inbox.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("dispatcher/postgres: scan status count: %w", err)
		}
		out[parseStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispatcher/postgres: status count rows: %w", err)
	}
	return out, nil
}

func parseStatus(s string) inbox.Status {
	switch s {
	case "PENDING":
		return inbox.StatusPending
	case "ACK":
		return inbox.StatusAck
	case "FAIL":
		return inbox.StatusFail
	case "DLQ":
		return inbox.StatusDLQ
	default:
		return inbox.StatusUnknown
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ dispatcher.Store = (*Store)(nil)
