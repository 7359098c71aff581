package main

import "testing"

func TestResolveSelector_ExplicitWins(t *testing.T) {
	t.Parallel()

	got, err := resolveSelector("2:", 0, 4)
	if err != nil {
		t.Fatalf("resolveSelector: %v", err)
	}
	if got != "2:" {
		t.Fatalf("got %q, want %q", got, "2:")
	}
}

func TestResolveSelector_DerivesFromShardFlags(t *testing.T) {
	t.Parallel()

	got, err := resolveSelector("", 3, 8)
	if err != nil {
		t.Fatalf("resolveSelector: %v", err)
	}
	if got != "3:" {
		t.Fatalf("got %q, want %q", got, "3:")
	}
}

func TestResolveSelector_UnshardedByDefault(t *testing.T) {
	t.Parallel()

	got, err := resolveSelector("", -1, 0)
	if err != nil {
		t.Fatalf("resolveSelector: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty selector, got %q", got)
	}
}

func TestResolveSelector_RejectsShardIdxWithoutShardCount(t *testing.T) {
	t.Parallel()

	if _, err := resolveSelector("", 0, 0); err == nil {
		t.Fatalf("expected error for --shard-idx without --shard-count > 1")
	}
}

func TestResolveSelector_RejectsOutOfRangeShardIdx(t *testing.T) {
	t.Parallel()

	if _, err := resolveSelector("", 5, 4); err == nil {
		t.Fatalf("expected error for out-of-range --shard-idx")
	}
}
