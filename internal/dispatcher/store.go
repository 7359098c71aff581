// Package dispatcher delivers every published event matching a partition
// selector to a user-supplied Handler exactly once per handler_kind, and
// records terminal inbox state atomically with the handler's own effects.
// It is grounded on the teacher's withdrawcoordinator/deposit pattern of a
// Store interface owning the multi-table claim transaction, with Tick/Run
// following the proof-funder Service's Tick-then-ticker-loop split.
package dispatcher

import (
	"context"

	"github.com/onchainflow/logindexer/internal/inbox"
)

// Store owns the dispatcher's transactional claim/settle cycle and the
// operator-facing replay/reset/inspect operations built on the same
// infra.inbox table.
type Store interface {
	EnsureSchema(ctx context.Context) error

	// RunBatch selects up to batchSize published events for handlerKind
	// whose partition_key starts with selector and which have no inbox
	// entry yet or a PENDING one (for example after ReplayRange or
	// ResetFailed), claims them as PENDING, invokes handle with
	// the same transaction handle, and settles every claimed row to ACK
	// or FAIL/DLQ depending on the handler's outcome - all atomically.
	// It returns the number of events claimed (0 if another worker won
	// the race or there was nothing to do); a zero return with a nil
	// error is the normal idle case.
	RunBatch(ctx context.Context, handlerKind, selector string, batchSize, maxAttempts int, handle Handler) (int, error)

	// ReplayRange makes every published event in [from, to] eligible for
	// redelivery to handlerKind: events with no inbox entry yet get one
	// inserted PENDING, events that already have an entry are reset to
	// PENDING with last_error cleared regardless of their prior status.
	// It returns (inserted, reset) counts.
	ReplayRange(ctx context.Context, handlerKind string, from, to uint64) (inserted int, reset int, err error)

	// ResetFailed resets every FAIL (not DLQ) inbox entry for handlerKind
	// back to PENDING. It returns the number of rows reset.
	ResetFailed(ctx context.Context, handlerKind string) (int, error)

	// CountsByStatus reports how many inbox rows exist per status for
	// handlerKind, for the status snapshot and the dlq_total metric.
	CountsByStatus(ctx context.Context, handlerKind string) (map[inbox.Status]int, error)
}
