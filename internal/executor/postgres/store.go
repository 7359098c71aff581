package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainflow/logindexer/internal/domainoutbox"
	"github.com/onchainflow/logindexer/internal/executor"
	"github.com/onchainflow/logindexer/internal/pgshared"
)

var ErrInvalidConfig = errors.New("executor/postgres: invalid config")

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
	if err := pgshared.EnsureSchema(ctx, s.pool, "executor/postgres", schemaSQL); err != nil {
		return err
	}
	return nil
}

func (s *Store) SelectPending(ctx context.Context, limit int) ([]domainoutbox.Command, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT command_key, kind, payload, status, attempts, coalesce(last_error, ''), created_at
		FROM domain.domain_outbox
		WHERE executed_at IS NULL
		ORDER BY command_key ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("executor/postgres: select pending: %w", err)
	}
	defer rows.Close()

	var out []domainoutbox.Command
	for rows.Next() {
		var (
			c       domainoutbox.Command
			payload []byte
			status  string
		)
		if err := rows.Scan(&c.CommandKey, &c.Kind, &payload, &status, &c.Attempts, &c.LastError, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("executor/postgres: scan pending row: %w", err)
		}
		c.Payload = payload
		c.Status = parseStatus(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("executor/postgres: pending rows: %w", err)
	}
	return out, nil
}

// MarkPublished implements the guarded settle update from spec scenario 6:
// two executors racing on the same command_key each attempt this UPDATE,
// but the WHERE executed_at IS NULL guard means only one of them observes
// RowsAffected() == 1.
func (s *Store) MarkPublished(ctx context.Context, commandKey string, txHash string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE domain.domain_outbox
		SET status = 'DONE', tx_hash = $2, executed_at = now(), last_error = NULL
		WHERE command_key = $1 AND executed_at IS NULL
	`, commandKey, txHash)
	if err != nil {
		return false, fmt.Errorf("executor/postgres: mark published: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkFailed(ctx context.Context, commandKey string, errMsg string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE domain.domain_outbox
		SET status = 'FAILED', attempts = attempts + 1, last_error = $2
		WHERE command_key = $1 AND executed_at IS NULL
	`, commandKey, truncateRunes(errMsg, domainoutbox.MaxErrorLen)); err != nil {
		return fmt.Errorf("executor/postgres: mark failed: %w", err)
	}
	return nil
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var n int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM domain.domain_outbox WHERE executed_at IS NULL
	`).Scan(&n); err != nil {
		return 0, fmt.Errorf("executor/postgres: pending count: %w", err)
	}
	return n, nil
}

func parseStatus(s string) domainoutbox.Status {
	switch s {
	case "PENDING":
		return domainoutbox.StatusPending
	case "DONE":
		return domainoutbox.StatusDone
	case "FAILED":
		return domainoutbox.StatusFailed
	default:
		return domainoutbox.StatusUnknown
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ executor.Store = (*Store)(nil)
