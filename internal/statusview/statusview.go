// Package statusview composes read-only counts from all four entity
// stores into a single Snapshot, the shape `cmd/indexerctl status` prints.
// It is a pure aggregation layer with no store implementation of its own,
// grounded on the teacher's convention of a Store interface consumed by
// more than one caller (here, four Store interfaces consumed by one).
package statusview

import (
	"context"
	"fmt"

	"github.com/onchainflow/logindexer/internal/inbox"
)

// IngestStore is the narrow read surface statusview needs from
// internal/ingest.Store.
type IngestStore interface {
	GetCursor(ctx context.Context, shardID string) (uint64, error)
	PendingOutboxCount(ctx context.Context) (int, error)
}

// DispatcherStore is the narrow read surface statusview needs from
// internal/dispatcher.Store.
type DispatcherStore interface {
	CountsByStatus(ctx context.Context, handlerKind string) (map[inbox.Status]int, error)
}

// ExecutorStore is the narrow read surface statusview needs from
// internal/executor.Store.
type ExecutorStore interface {
	PendingCount(ctx context.Context) (int, error)
}

// ReadClient is the narrow read surface statusview needs from
// internal/rpcadapter.ReadClient, for the current chain head.
type ReadClient interface {
	GetHeadBlock(ctx context.Context) (uint64, error)
}

// Snapshot is the composed status dump: head, per-shard cursors, pending
// ingest outbox count, per-status inbox counts for one or more handler
// kinds, and pending domain outbox count.
type Snapshot struct {
	Head uint64

	Cursors map[string]uint64

	PendingIngestOutbox int

	InboxCounts map[string]map[inbox.Status]int

	PendingDomainOutbox int
}

// Builder collects the stores and shard/handler-kind universe needed to
// produce a Snapshot; it holds no state of its own.
type Builder struct {
	read         ReadClient
	ingest       IngestStore
	dispatcher   DispatcherStore
	executor     ExecutorStore
	shardIDs     []string
	handlerKinds []string
}

func NewBuilder(read ReadClient, ingestStore IngestStore, dispatcherStore DispatcherStore, executorStore ExecutorStore, shardIDs, handlerKinds []string) *Builder {
	return &Builder{
		read:         read,
		ingest:       ingestStore,
		dispatcher:   dispatcherStore,
		executor:     executorStore,
		shardIDs:     shardIDs,
		handlerKinds: handlerKinds,
	}
}

// Build queries every store exactly once per requested shard/handler kind
// and composes the result. A failure on any single query aborts the whole
// snapshot, since a partial status dump is more likely to mislead an
// operator than an outright error.
func (b *Builder) Build(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Cursors:     make(map[string]uint64, len(b.shardIDs)),
		InboxCounts: make(map[string]map[inbox.Status]int, len(b.handlerKinds)),
	}

	if b.read != nil {
		head, err := b.read.GetHeadBlock(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("statusview: get head block: %w", err)
		}
		snap.Head = head
	}

	if b.ingest != nil {
		for _, shardID := range b.shardIDs {
			cur, err := b.ingest.GetCursor(ctx, shardID)
			if err != nil {
				return Snapshot{}, fmt.Errorf("statusview: get cursor %s: %w", shardID, err)
			}
			snap.Cursors[shardID] = cur
		}

		pending, err := b.ingest.PendingOutboxCount(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("statusview: pending ingest outbox count: %w", err)
		}
		snap.PendingIngestOutbox = pending
	}

	if b.dispatcher != nil {
		for _, kind := range b.handlerKinds {
			counts, err := b.dispatcher.CountsByStatus(ctx, kind)
			if err != nil {
				return Snapshot{}, fmt.Errorf("statusview: counts by status %s: %w", kind, err)
			}
			snap.InboxCounts[kind] = counts
		}
	}

	if b.executor != nil {
		pending, err := b.executor.PendingCount(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("statusview: pending domain outbox count: %w", err)
		}
		snap.PendingDomainOutbox = pending
	}

	return snap, nil
}
