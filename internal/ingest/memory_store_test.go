package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func mkLog(blockNumber, logIndex uint64) Log {
	return Log{
		Address:          common.HexToAddress("0x0000000000000000000000000000000000000aaa"),
		BlockHash:        common.HexToHash("0x01"),
		BlockNumber:      blockNumber,
		LogIndex:         logIndex,
		Topics:           []common.Hash{common.HexToHash("0xdeadbeef")},
		TransactionHash:  common.HexToHash("0x02"),
		TransactionIndex: 0,
	}
}

func TestMemoryStore_AppendChunkIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	payload, _ := json.Marshal(map[string]int{"x": 1})
	e := FromLog(mkLog(10, 0), "p", payload)

	n, err := s.AppendChunk(ctx, "shard", []IngestEvent{e}, 11)
	if err != nil {
		t.Fatalf("AppendChunk #1: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 inserted, got %d", n)
	}

	n, err = s.AppendChunk(ctx, "shard", []IngestEvent{e}, 11)
	if err != nil {
		t.Fatalf("AppendChunk #2: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 inserted on replay, got %d", n)
	}

	cur, err := s.GetCursor(ctx, "shard")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cur != 11 {
		t.Fatalf("cursor: got %d want 11", cur)
	}
}

func TestMemoryStore_CursorNeverRegresses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.AppendChunk(ctx, "shard", nil, 100); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if _, err := s.AppendChunk(ctx, "shard", nil, 50); err != nil {
		t.Fatalf("AppendChunk regress: %v", err)
	}

	cur, err := s.GetCursor(ctx, "shard")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cur != 100 {
		t.Fatalf("cursor regressed: got %d want 100", cur)
	}
}

func TestMemoryStore_PublishLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	payload, _ := json.Marshal(map[string]int{"x": 1})
	e1 := FromLog(mkLog(1, 0), "p", payload)
	e2 := FromLog(mkLog(1, 1), "p", payload)

	if _, err := s.AppendChunk(ctx, "shard", []IngestEvent{e1, e2}, 2); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	count, err := s.PendingOutboxCount(ctx)
	if err != nil {
		t.Fatalf("PendingOutboxCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("PendingOutboxCount: got %d want 2", count)
	}

	msgs, err := s.SelectUnpublished(ctx, 1)
	if err != nil {
		t.Fatalf("SelectUnpublished: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected limit to cap results at 1, got %d", len(msgs))
	}

	if err := s.MarkPublished(ctx, e1.EventID); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	if !s.IsPublished(e1.EventID) {
		t.Fatalf("expected e1 to be published")
	}
	if s.IsPublished(e2.EventID) {
		t.Fatalf("expected e2 to remain unpublished")
	}

	if err := s.MarkPublished(ctx, "missing"); err == nil {
		t.Fatalf("expected error for unknown event")
	}
}
