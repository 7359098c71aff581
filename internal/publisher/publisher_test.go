package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/onchainflow/logindexer/internal/ingest"
)

// TestMain guards against goroutine leaks from Run's idle-sleep loop
// outliving its context, the shape TestPublisher_RunStopsOnContextCancel
// exercises below.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seedEvent(t *testing.T, store *ingest.MemoryStore, eventID string) {
	t.Helper()
	_, err := store.AppendChunk(context.Background(), "shard-0", []ingest.IngestEvent{{EventID: eventID}}, 1)
	if err != nil {
		t.Fatalf("seed event %s: %v", eventID, err)
	}
}

func TestPublisher_StampsOnSinkSuccess(t *testing.T) {
	t.Parallel()

	store := ingest.NewMemoryStore()
	seedEvent(t, store, "a")
	seedEvent(t, store, "b")

	var delivered []string
	var mu sync.Mutex
	sink := func(_ context.Context, msg ingest.OutboxMessage) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, msg.EventID)
		return nil
	}

	p, err := New(Config{}, store, sink, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := p.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 attempted, got %d", n)
	}
	if len(delivered) != 2 {
		t.Fatalf("expected 2 delivered, got %d", len(delivered))
	}

	pending, err := store.PendingOutboxCount(context.Background())
	if err != nil {
		t.Fatalf("PendingOutboxCount: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected 0 pending after publish, got %d", pending)
	}
}

// TestPublisher_StampsOnSinkFailure covers the spec's explicit
// stamp-regardless-of-outcome contract: a failing sink still advances
// published_at.
func TestPublisher_StampsOnSinkFailure(t *testing.T) {
	t.Parallel()

	store := ingest.NewMemoryStore()
	seedEvent(t, store, "a")

	sink := func(context.Context, ingest.OutboxMessage) error {
		return errors.New("transport unavailable")
	}

	p, err := New(Config{}, store, sink, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	pending, err := store.PendingOutboxCount(context.Background())
	if err != nil {
		t.Fatalf("PendingOutboxCount: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected row stamped published despite sink failure, got %d pending", pending)
	}
}

func TestPublisher_EmptyBatchIsNotAnError(t *testing.T) {
	t.Parallel()

	store := ingest.NewMemoryStore()
	p, err := New(Config{}, store, func(context.Context, ingest.OutboxMessage) error { return nil }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := p.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 on empty batch, got %d", n)
	}
}

func TestPublisher_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	store := ingest.NewMemoryStore()
	p, err := New(Config{IdleSleep: time.Millisecond}, store, func(context.Context, ingest.OutboxMessage) error { return nil }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = p.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
