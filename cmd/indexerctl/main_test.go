package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRunStatus_RequiresPostgresDSN(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runStatus(context.Background(), nil, &out)
	if err == nil || !strings.Contains(err.Error(), "postgres-dsn") {
		t.Fatalf("expected postgres-dsn error, got %v", err)
	}
}

func TestRunReplay_RequiresHandlerAndDSN(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runReplay(context.Background(), []string{"--postgres-dsn", "postgres://x"}, &out)
	if err == nil || !strings.Contains(err.Error(), "--handler") {
		t.Fatalf("expected missing --handler error, got %v", err)
	}
}

func TestRunReplay_RejectsInvertedRange(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runReplay(context.Background(), []string{
		"--postgres-dsn", "postgres://x",
		"--handler", "erc20projector",
		"--from", "100",
		"--to", "1",
	}, &out)
	if err == nil || !strings.Contains(err.Error(), "--to must be >=") {
		t.Fatalf("expected inverted-range error, got %v", err)
	}
}

func TestRunReset_RequiresHandlerAndDSN(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runReset(context.Background(), []string{"--postgres-dsn", "postgres://x"}, &out)
	if err == nil || !strings.Contains(err.Error(), "--handler") {
		t.Fatalf("expected missing --handler error, got %v", err)
	}
}
