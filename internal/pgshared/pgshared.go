// Package pgshared holds the one piece of behavior every postgres.Store
// in this module repeats verbatim: running a schema string of
// CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS statements
// against a pool. There is no migration tool (consistent with the spec's
// Non-goals) — schema evolution is append-only DDL guarded by IF NOT
// EXISTS, exactly as every teacher postgres store already does it.
package pgshared

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the narrow capability every postgres.Store's EnsureSchema
// needs; satisfied by *pgxpool.Pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema runs ddl against pool and wraps any failure with the
// caller-supplied component name for easier diagnosis across the three
// postgres stores that share this helper.
func EnsureSchema(ctx context.Context, pool Pool, component, ddl string) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%s: ensure schema: %w", component, err)
	}
	return nil
}
