package dispatcher

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal SQL surface a Handler is given. It is satisfied
// structurally by both *pgxpool.Pool and pgx.Tx, but the postgres Store
// always passes the latter: all handler effects run inside the same
// transaction as the inbox claim/settle, per the component's exactly-once
// contract.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Event is one claimed candidate handed to the Handler, ordered by
// block_number ascending and deduplicated by the claim insert.
type Event struct {
	EventID      string
	BlockNumber  uint64
	Address      common.Address
	Topic0       common.Hash
	PartitionKey string
	Payload      []byte
}

// Handler processes a claimed batch inside tx. Returning an error fails
// every event in the batch identically - the batch is not partitioned
// between partial successes and failures; a handler that wants per-event
// granularity should keep its own accounting and always return nil, or
// split batches by keeping BatchSize small.
type Handler func(ctx context.Context, tx DBTX, events []Event) error
