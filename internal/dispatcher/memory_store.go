package dispatcher

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onchainflow/logindexer/internal/inbox"
	"github.com/onchainflow/logindexer/internal/ingest"
)

type claimKey struct {
	eventID     string
	handlerKind string
}

// MemoryStore is an in-process Store used by dispatcher unit tests. Tests
// seed it with already-published events via Publish; RunBatch then mirrors
// the postgres implementation's claim/settle semantics against an
// in-memory map instead of infra.ingest_events/infra.inbox.
type MemoryStore struct {
	mu        sync.Mutex
	published map[string]ingest.IngestEvent
	entries   map[claimKey]*inbox.Entry
	now       func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		published: make(map[string]ingest.IngestEvent),
		entries:   make(map[claimKey]*inbox.Entry),
		now:       now,
	}
}

// Publish seeds events as already-published, making them eligible for
// RunBatch's selection query.
func (m *MemoryStore) Publish(events ...ingest.IngestEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.published[e.EventID] = e
	}
}

func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (m *MemoryStore) RunBatch(ctx context.Context, handlerKind, selector string, batchSize, maxAttempts int, handle Handler) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []ingest.IngestEvent
	for _, e := range m.published {
		if !strings.HasPrefix(e.PartitionKey, selector) {
			continue
		}
		if entry, claimed := m.entries[claimKey{e.EventID, handlerKind}]; claimed && entry.Status != inbox.StatusPending {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].BlockNumber != candidates[j].BlockNumber {
			return candidates[i].BlockNumber < candidates[j].BlockNumber
		}
		return candidates[i].EventID < candidates[j].EventID
	})
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	events := make([]Event, 0, len(candidates))
	for _, e := range candidates {
		key := claimKey{e.EventID, handlerKind}
		if _, ok := m.entries[key]; !ok {
			m.entries[key] = &inbox.Entry{
				EventID:     e.EventID,
				HandlerKind: handlerKind,
				Status:      inbox.StatusPending,
			}
		}
		events = append(events, Event{
			EventID:      e.EventID,
			BlockNumber:  e.BlockNumber,
			Address:      e.Address,
			Topic0:       e.Topic0,
			PartitionKey: e.PartitionKey,
			Payload:      e.Payload,
		})
	}

	handleErr := handle(ctx, nil, events)

	now := m.now()
	for _, e := range candidates {
		entry := m.entries[claimKey{e.EventID, handlerKind}]
		entry.Attempts++
		entry.ClaimedAt = &now
		if handleErr == nil {
			entry.Status = inbox.StatusAck
			entry.LastError = ""
			continue
		}
		entry.LastError = truncate(handleErr.Error(), inbox.MaxErrorLen)
		if entry.Attempts >= maxAttempts {
			entry.Status = inbox.StatusDLQ
		} else {
			entry.Status = inbox.StatusFail
		}
	}
	return len(candidates), nil
}

func (m *MemoryStore) ReplayRange(_ context.Context, handlerKind string, from, to uint64) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inserted, reset int
	for _, e := range m.published {
		if e.BlockNumber < from || e.BlockNumber > to {
			continue
		}
		key := claimKey{e.EventID, handlerKind}
		if entry, ok := m.entries[key]; ok {
			entry.Status = inbox.StatusPending
			entry.LastError = ""
			reset++
			continue
		}
		m.entries[key] = &inbox.Entry{
			EventID:     e.EventID,
			HandlerKind: handlerKind,
			Status:      inbox.StatusPending,
		}
		inserted++
	}
	return inserted, reset, nil
}

func (m *MemoryStore) ResetFailed(_ context.Context, handlerKind string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, entry := range m.entries {
		if key.handlerKind != handlerKind || entry.Status != inbox.StatusFail {
			continue
		}
		entry.Status = inbox.StatusPending
		entry.LastError = ""
		n++
	}
	return n, nil
}

func (m *MemoryStore) CountsByStatus(_ context.Context, handlerKind string) (map[inbox.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[inbox.Status]int)
	for key, entry := range m.entries {
		if key.handlerKind != handlerKind {
			continue
		}
		out[entry.Status]++
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ Store = (*MemoryStore)(nil)
