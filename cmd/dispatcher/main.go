// Command dispatcher runs one Dispatcher loop against a single
// handler_kind/selector pair. The handler itself is chosen by name from a
// small static registry; internal/examples/erc20projector is the only
// handler shipped in this repo, but the registry shape is what a second
// handler_kind would plug into.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainflow/logindexer/internal/dispatcher"
	dispatcherpg "github.com/onchainflow/logindexer/internal/dispatcher/postgres"
	"github.com/onchainflow/logindexer/internal/examples/erc20projector"
	"github.com/onchainflow/logindexer/internal/partition"
	"github.com/onchainflow/logindexer/internal/telemetry"
)

var handlerRegistry = map[string]dispatcher.Handler{
	erc20projector.HandlerKind: erc20projector.Handle,
}

func main() {
	var (
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")
		storeDriver = flag.String("store-driver", "postgres", "dispatcher store driver: postgres|memory")

		handlerKind = flag.String("handler-kind", erc20projector.HandlerKind, "registered handler to run")
		selector    = flag.String("selector", "", "partition_key prefix this worker claims (overrides --shard-idx/--shard-count; empty means all shards)")
		shardIdx    = flag.Int("shard-idx", -1, "shard index this worker claims, derived via partition.Selector (requires --shard-count > 1)")
		shardCount  = flag.Uint("shard-count", 0, "total shard count events were partitioned under (0 or 1 means unsharded)")

		batchSize   = flag.Int("batch-size", 200, "max events claimed per tick")
		maxAttempts = flag.Int("max-attempts", 5, "attempts before an event is moved to DLQ")
		idleSleep   = flag.Duration("idle-sleep", 200*time.Millisecond, "sleep after an empty batch")

		metricsAddr = flag.String("metrics-addr", ":9092", "listen address for /metrics and /healthz")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handle, ok := handlerRegistry[strings.TrimSpace(*handlerKind)]
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown --handler-kind %q (registered: %s)\n", *handlerKind, registeredNames())
		os.Exit(2)
	}

	resolvedSelector, err := resolveSelector(*selector, *shardIdx, *shardCount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pool, err := openDispatcherStore(ctx, *storeDriver, *postgresDSN)
	if err != nil {
		log.Error("init dispatcher store", "err", err)
		os.Exit(2)
	}
	if pool != nil {
		defer pool.Close()
	}

	metrics := telemetry.New()
	d, err := dispatcher.NewWithRecorder(dispatcher.Config{
		HandlerKind: *handlerKind,
		Selector:    resolvedSelector,
		BatchSize:   *batchSize,
		MaxAttempts: *maxAttempts,
		IdleSleep:   *idleSleep,
	}, store, handle, metrics, log)
	if err != nil {
		log.Error("init dispatcher", "err", err)
		os.Exit(2)
	}

	go serveMetrics(*metricsAddr, metrics, store, log)

	log.Info("dispatcher started", "handlerKind", *handlerKind, "selector", resolvedSelector, "storeDriver", *storeDriver)
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("dispatcher exited", "err", err)
		os.Exit(1)
	}
}

// resolveSelector returns the partition_key prefix this worker claims.
// An explicit --selector always wins; otherwise --shard-idx/--shard-count
// are turned into the matching prefix via partition.Selector, so this
// binary's sharding lines up exactly with the scanner's partition.Key
// assignment for the same shard count.
func resolveSelector(explicit string, shardIdx int, shardCount uint) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	if shardIdx < 0 {
		return "", nil
	}
	if shardCount <= 1 {
		return "", fmt.Errorf("--shard-idx requires --shard-count > 1")
	}
	if shardIdx >= int(shardCount) {
		return "", fmt.Errorf("--shard-idx %d out of range for --shard-count %d", shardIdx, shardCount)
	}
	return partition.Selector(shardIdx, uint32(shardCount)), nil
}

func registeredNames() string {
	names := make([]string, 0, len(handlerRegistry))
	for k := range handlerRegistry {
		names = append(names, k)
	}
	return strings.Join(names, ", ")
}

func openDispatcherStore(ctx context.Context, driver, dsn string) (dispatcher.Store, *pgxpool.Pool, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		if strings.TrimSpace(dsn) == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn is required when --store-driver=postgres")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("init pgx pool: %w", err)
		}
		store, err := dispatcherpg.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure dispatcher schema: %w", err)
		}
		if err := erc20projector.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure erc20projector schema: %w", err)
		}
		return store, pool, nil
	case "memory":
		return dispatcher.NewMemoryStore(nil), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported --store-driver %q", driver)
	}
}

func serveMetrics(addr string, metrics *telemetry.Metrics, store dispatcher.Store, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", telemetry.HealthzHandler(store, 2*time.Second))
	log.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server exited", "err", err)
	}
}
