package ingest

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by scanner/publisher unit tests
// and by local dev tooling that doesn't want a Postgres dependency. It
// preserves the same conflict-ignore and published-at-guard semantics as
// the Postgres implementation so the same test suites can run against
// either backend.
type MemoryStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
	events  map[string]IngestEvent
	outbox  map[string]*time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cursors: make(map[string]uint64),
		events:  make(map[string]IngestEvent),
		outbox:  make(map[string]*time.Time),
	}
}

func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (m *MemoryStore) GetCursor(_ context.Context, shardID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[shardID], nil
}

func (m *MemoryStore) AppendChunk(_ context.Context, shardID string, events []IngestEvent, to uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, e := range events {
		if _, exists := m.events[e.EventID]; exists {
			continue
		}
		m.events[e.EventID] = e
		m.outbox[e.EventID] = nil
		inserted++
	}
	if cur, ok := m.cursors[shardID]; !ok || to > cur {
		m.cursors[shardID] = to
	}
	return inserted, nil
}

func (m *MemoryStore) SelectUnpublished(_ context.Context, limit int) ([]OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.outbox))
	for id, pubAt := range m.outbox {
		if pubAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]OutboxMessage, 0, len(ids))
	for _, id := range ids {
		e := m.events[id]
		out = append(out, OutboxMessage{
			EventID:      e.EventID,
			BlockNumber:  e.BlockNumber,
			PartitionKey: e.PartitionKey,
			Payload:      e.Payload,
			PublishedAt:  nil,
		})
	}
	return out, nil
}

func (m *MemoryStore) MarkPublished(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.outbox[eventID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	m.outbox[eventID] = &now
	return nil
}

func (m *MemoryStore) PendingOutboxCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, pubAt := range m.outbox {
		if pubAt == nil {
			n++
		}
	}
	return n, nil
}

// Events returns a snapshot of all ingested events, for test assertions.
func (m *MemoryStore) Events() []IngestEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]IngestEvent, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

// IsPublished reports whether an event's outbox row has been stamped.
func (m *MemoryStore) IsPublished(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pubAt, ok := m.outbox[eventID]
	return ok && pubAt != nil
}

var _ Store = (*MemoryStore)(nil)
