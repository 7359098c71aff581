package scanner

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/goleak"

	"github.com/onchainflow/logindexer/internal/ingest"
)

// TestMain guards against goroutine leaks from Run's poll loop outliving
// its context, the shape TestScanner_RunStopsOnContextCancel exercises.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeReadClient struct {
	mu          sync.Mutex
	head        uint64
	logsByRange map[[2]uint64][]ingest.Log
	failHead    bool
	failLogs    bool
	calls       int
}

func (f *fakeReadClient) GetHeadBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHead {
		return 0, errors.New("head fetch failed")
	}
	return f.head, nil
}

func (f *fakeReadClient) GetLogs(_ context.Context, filter ingest.Filter, _ time.Duration) ([]ingest.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failLogs {
		return nil, errors.New("get_logs failed")
	}
	return f.logsByRange[[2]uint64{filter.FromBlock, filter.ToBlock}], nil
}

func mkLog(block, txIdx, logIdx uint64) ingest.Log {
	return ingest.Log{
		Address:          common.HexToAddress("0x0000000000000000000000000000000000000001"),
		BlockHash:        common.BigToHash(new(big.Int).SetUint64(block)),
		BlockNumber:      block,
		LogIndex:         logIdx,
		TransactionIndex: txIdx,
		TransactionHash:  common.BigToHash(new(big.Int).SetUint64(block*1000 + txIdx)),
		Topics:           []common.Hash{common.HexToHash("0xdead")},
	}
}

func TestScanner_AdvancesCursorAndWidensStep(t *testing.T) {
	t.Parallel()

	read := &fakeReadClient{
		head: 10,
		logsByRange: map[[2]uint64][]ingest.Log{
			{1, 10}: {mkLog(5, 0, 0), mkLog(7, 0, 0)},
		},
	}
	store := ingest.NewMemoryStore()
	s, err := New(Config{ShardID: "shard-0", StepInit: 10, StepMax: 40}, read, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events persisted, got %d", n)
	}
	if s.step != 20 {
		t.Fatalf("expected step to widen to 20, got %d", s.step)
	}

	hwm, err := store.GetCursor(context.Background(), "shard-0")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if hwm != 10 {
		t.Fatalf("expected cursor 10, got %d", hwm)
	}
}

func TestScanner_IdleWhenHeadNotAhead(t *testing.T) {
	t.Parallel()

	read := &fakeReadClient{head: 5}
	store := ingest.NewMemoryStore()
	if _, err := store.AppendChunk(context.Background(), "shard-0", nil, 5); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	s, err := New(Config{ShardID: "shard-0"}, read, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 events on idle tick, got %d", n)
	}
	if read.calls != 0 {
		t.Fatalf("expected get_logs not called when idle")
	}
}

func TestScanner_NarrowsStepOnLogsFailure(t *testing.T) {
	t.Parallel()

	read := &fakeReadClient{head: 10, failLogs: true}
	store := ingest.NewMemoryStore()
	s, err := New(Config{ShardID: "shard-0", StepInit: 8, StepMin: 1}, read, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Tick(context.Background()); err == nil {
		t.Fatalf("expected error from failing get_logs")
	}
	if s.step != 4 {
		t.Fatalf("expected step to narrow to 4, got %d", s.step)
	}

	hwm, err := store.GetCursor(context.Background(), "shard-0")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if hwm != 0 {
		t.Fatalf("expected cursor to stay at 0 on failure, got %d", hwm)
	}
}

func TestScanner_NarrowsStepOnHeadFailure(t *testing.T) {
	t.Parallel()

	read := &fakeReadClient{failHead: true}
	store := ingest.NewMemoryStore()
	s, err := New(Config{ShardID: "shard-0", StepInit: 8, StepMin: 2}, read, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Tick(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if s.step != 4 {
		t.Fatalf("expected step to narrow to 4, got %d", s.step)
	}
}

func TestScanner_StepNeverExceedsStepMax(t *testing.T) {
	t.Parallel()

	read := &fakeReadClient{
		head: 100,
		logsByRange: map[[2]uint64][]ingest.Log{
			{1, 5}: nil,
		},
	}
	store := ingest.NewMemoryStore()
	s, err := New(Config{ShardID: "shard-0", StepInit: 5, StepMax: 8}, read, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if s.step != 8 {
		t.Fatalf("expected step capped at step_max 8, got %d", s.step)
	}
}

func TestScanner_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	read := &fakeReadClient{head: 0}
	store := ingest.NewMemoryStore()
	s, err := New(Config{ShardID: "shard-0", PollInterval: time.Millisecond}, read, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
