// Command indexerctl is the operator control surface: status, replay, and
// reset against the already-running pipeline's stores. Each subcommand
// builds its own flag.FlagSet and has a runXxx(args, stdout) entry point,
// the same split cmd/juno-keyinfo uses for testability without os.Exit in
// the hot path.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainflow/logindexer/internal/cliutil"
	dispatcherpg "github.com/onchainflow/logindexer/internal/dispatcher/postgres"
	executorpg "github.com/onchainflow/logindexer/internal/executor/postgres"
	"github.com/onchainflow/logindexer/internal/inbox"
	ingestpg "github.com/onchainflow/logindexer/internal/ingest/postgres"
	"github.com/onchainflow/logindexer/internal/rpcadapter"
	"github.com/onchainflow/logindexer/internal/statusview"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: indexerctl <status|replay|reset> [flags]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "status":
		err = runStatus(ctx, os.Args[2:], os.Stdout)
	case "replay":
		err = runReplay(ctx, os.Args[2:], os.Stdout)
	case "reset":
		err = runReset(ctx, os.Args[2:], os.Stdout)
	default:
		err = fmt.Errorf("unknown subcommand %q (expected status|replay|reset)", os.Args[1])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	postgresDSN := fs.String("postgres-dsn", "", "Postgres DSN (required)")
	rpcURL := fs.String("rpc-url", "", "chain JSON-RPC endpoint URL (optional; omit to skip the head block)")
	shardIDs := fs.String("shard-ids", "", "comma-separated shard ids to report cursors for")
	handlerKinds := fs.String("handler-kinds", "", "comma-separated handler kinds to report inbox counts for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*postgresDSN) == "" {
		return errors.New("--postgres-dsn is required")
	}

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		return fmt.Errorf("init pgx pool: %w", err)
	}
	defer pool.Close()

	ingestStore, err := ingestpg.New(pool)
	if err != nil {
		return err
	}
	dispatcherStore, err := dispatcherpg.New(pool)
	if err != nil {
		return err
	}
	executorStore, err := executorpg.New(pool)
	if err != nil {
		return err
	}

	var read statusview.ReadClient
	if strings.TrimSpace(*rpcURL) != "" {
		client, err := gethrpc.DialContext(ctx, *rpcURL)
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}
		defer client.Close()
		read, err = rpcadapter.NewReadClient(client, rpcadapter.ReadConfig{}, nil, nil)
		if err != nil {
			return err
		}
	}

	b := statusview.NewBuilder(read, ingestStore, dispatcherStore, executorStore, cliutil.SplitCSV(*shardIDs), cliutil.SplitCSV(*handlerKinds))
	snap, err := b.Build(ctx)
	if err != nil {
		return fmt.Errorf("build status snapshot: %w", err)
	}

	return json.NewEncoder(stdout).Encode(statusOutput{
		Head:                snap.Head,
		Cursors:             snap.Cursors,
		PendingIngestOutbox: snap.PendingIngestOutbox,
		InboxCounts:         flattenInboxCounts(snap.InboxCounts),
		PendingDomainOutbox: snap.PendingDomainOutbox,
	})
}

type statusOutput struct {
	Head                uint64                    `json:"head"`
	Cursors             map[string]uint64         `json:"cursors"`
	PendingIngestOutbox int                       `json:"pending_ingest_outbox"`
	InboxCounts         map[string]map[string]int `json:"inbox_counts"`
	PendingDomainOutbox int                       `json:"pending_domain_outbox"`
}

func flattenInboxCounts(in map[string]map[inbox.Status]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(in))
	for kind, counts := range in {
		m := make(map[string]int, len(counts))
		for status, n := range counts {
			m[status.String()] = n
		}
		out[kind] = m
	}
	return out
}

func runReplay(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	postgresDSN := fs.String("postgres-dsn", "", "Postgres DSN (required)")
	handlerKind := fs.String("handler", "", "handler_kind to replay (required)")
	from := fs.Uint64("from", 0, "first block number, inclusive (required)")
	to := fs.Uint64("to", 0, "last block number, inclusive (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*postgresDSN) == "" || strings.TrimSpace(*handlerKind) == "" {
		return errors.New("--postgres-dsn and --handler are required")
	}
	if *to < *from {
		return errors.New("--to must be >= --from")
	}

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		return fmt.Errorf("init pgx pool: %w", err)
	}
	defer pool.Close()

	store, err := dispatcherpg.New(pool)
	if err != nil {
		return err
	}

	inserted, reset, err := store.ReplayRange(ctx, *handlerKind, *from, *to)
	if err != nil {
		return fmt.Errorf("replay range: %w", err)
	}
	fmt.Fprintf(stdout, "replayed handler=%s from=%d to=%d inserted=%d reset=%d\n", *handlerKind, *from, *to, inserted, reset)
	return nil
}

func runReset(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	postgresDSN := fs.String("postgres-dsn", "", "Postgres DSN (required)")
	handlerKind := fs.String("handler", "", "handler_kind to reset FAIL entries for (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*postgresDSN) == "" || strings.TrimSpace(*handlerKind) == "" {
		return errors.New("--postgres-dsn and --handler are required")
	}

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		return fmt.Errorf("init pgx pool: %w", err)
	}
	defer pool.Close()

	store, err := dispatcherpg.New(pool)
	if err != nil {
		return err
	}

	n, err := store.ResetFailed(ctx, *handlerKind)
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	fmt.Fprintf(stdout, "reset handler=%s count=%d\n", *handlerKind, n)
	return nil
}

