package ingest

import "context"

// Store is the persistence contract shared by the Ingest Scanner (writer)
// and the Ingest Publisher (reader). A single implementation backs both;
// the interface is split along the two components' needs rather than by
// table, mirroring how the teacher's deposit.Store exposes one interface
// consumed by more than one service.
type Store interface {
	EnsureSchema(ctx context.Context) error

	// GetCursor returns the shard's current high-water mark, or 0 if the
	// shard has never been recorded (lazy creation happens inside
	// AppendChunk, not here).
	GetCursor(ctx context.Context, shardID string) (uint64, error)

	// AppendChunk performs the scanner's step-6 transaction: it inserts
	// every event not already present (conflict on event_id -> ignore),
	// inserts a matching IngestOutbox row for each (same conflict
	// policy), and advances the shard cursor to `to` - all atomically,
	// even when events is empty. It returns the number of IngestEvent
	// rows actually inserted (for metrics/logging, not correctness).
	AppendChunk(ctx context.Context, shardID string, events []IngestEvent, to uint64) (int, error)

	// SelectUnpublished returns up to limit OutboxMessage rows with
	// published_at IS NULL, ordered by event_id ASC.
	SelectUnpublished(ctx context.Context, limit int) ([]OutboxMessage, error)

	// MarkPublished stamps published_at = now() for the given event,
	// regardless of whether downstream publication succeeded (see
	// internal/publisher doc comment for the rationale).
	MarkPublished(ctx context.Context, eventID string) error

	// PendingOutboxCount reports how many rows currently have
	// published_at IS NULL, for the status snapshot.
	PendingOutboxCount(ctx context.Context) (int, error)
}
