// Command ingest-scanner runs one Scanner per configured shard, each
// advancing its own cursor independently. Shard fan-out mirrors the
// teacher's multi-worker cmd binaries: one goroutine per unit of work,
// joined on shutdown via errgroup.
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

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/onchainflow/logindexer/internal/cliutil"
	"github.com/onchainflow/logindexer/internal/ingest"
	ingestpg "github.com/onchainflow/logindexer/internal/ingest/postgres"
	"github.com/onchainflow/logindexer/internal/rpcadapter"
	"github.com/onchainflow/logindexer/internal/scanner"
	"github.com/onchainflow/logindexer/internal/telemetry"
)

func main() {
	var (
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")
		storeDriver = flag.String("store-driver", "postgres", "ingest store driver: postgres|memory")

		rpcURL = flag.String("rpc-url", "", "chain JSON-RPC endpoint URL (required)")

		shardIDs      = flag.String("shard-ids", "", "comma-separated shard ids, one scanner per id (required)")
		shardCount    = flag.Uint("shard-count", 1, "total shard count used for partition_key routing")
		subscriptions = flag.String("subscriptions-file", "", "optional YAML file of {address?, topic0?} subscriptions; unset means scan every log")

		stepInit = flag.Int("step-init", 1000, "initial block range width")
		stepMin  = flag.Int("step-min", 1, "minimum block range width after narrowing")
		stepMax  = flag.Int("step-max", 20000, "maximum block range width after widening")

		pollInterval = flag.Duration("poll-interval", time.Second, "idle sleep between ticks")
		logsDeadline = flag.Duration("logs-deadline", 15*time.Second, "per-call get_logs deadline")

		rpsMax           = flag.Float64("rpc-rps-max", 10, "read pool rate limit, requests/sec")
		rpcBurst         = flag.Int("rpc-burst", 0, "read pool token bucket burst (default: rpc-rps-max)")
		failureThreshold = flag.Uint("rpc-failure-threshold", 5, "consecutive failures before the breaker opens")
		openSeconds      = flag.Duration("rpc-open-seconds", 30*time.Second, "breaker open-state duration")

		metricsAddr = flag.String("metrics-addr", ":9090", "listen address for /metrics and /healthz")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ids := cliutil.SplitCSV(*shardIDs)
	if *rpcURL == "" || len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "error: --rpc-url and --shard-ids are required")
		os.Exit(2)
	}

	var subs []ingest.Subscription
	if strings.TrimSpace(*subscriptions) != "" {
		var err error
		subs, err = cliutil.LoadSubscriptions(*subscriptions)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: load --subscriptions-file: %v\n", err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pool, err := openIngestStore(ctx, *storeDriver, *postgresDSN)
	if err != nil {
		log.Error("init ingest store", "err", err)
		os.Exit(2)
	}
	if pool != nil {
		defer pool.Close()
	}

	rpcClient, err := gethrpc.DialContext(ctx, *rpcURL)
	if err != nil {
		log.Error("dial rpc", "err", err)
		os.Exit(2)
	}
	defer rpcClient.Close()

	metrics := telemetry.New()
	read, err := rpcadapter.NewReadClient(rpcClient, rpcadapter.ReadConfig{
		RPSMax:           *rpsMax,
		Burst:            *rpcBurst,
		LogsDeadline:     *logsDeadline,
		FailureThreshold: uint32(*failureThreshold),
		OpenSeconds:      *openSeconds,
	}, metrics, log)
	if err != nil {
		log.Error("init read client", "err", err)
		os.Exit(2)
	}

	go serveMetrics(*metricsAddr, metrics, store, log)

	g, gctx := errgroup.WithContext(ctx)
	for _, shardID := range ids {
		shardID := shardID
		s, err := scanner.NewWithRecorder(scanner.Config{
			ShardID:       shardID,
			Subscriptions: subs,
			ShardCount:    uint32(*shardCount),
			StepInit:      *stepInit,
			StepMin:       *stepMin,
			StepMax:       *stepMax,
			PollInterval:  *pollInterval,
			LogsDeadline:  *logsDeadline,
		}, read, store, metrics, log)
		if err != nil {
			log.Error("init scanner", "shard_id", shardID, "err", err)
			os.Exit(2)
		}
		g.Go(func() error { return s.Run(gctx) })
	}

	log.Info("ingest-scanner started", "shards", ids, "rpcURL", *rpcURL, "storeDriver", *storeDriver)
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Error("scanner group exited", "err", err)
		os.Exit(1)
	}
}

func openIngestStore(ctx context.Context, driver, dsn string) (ingest.Store, *pgxpool.Pool, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		if strings.TrimSpace(dsn) == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn is required when --store-driver=postgres")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("init pgx pool: %w", err)
		}
		store, err := ingestpg.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure ingest schema: %w", err)
		}
		return store, pool, nil
	case "memory":
		return ingest.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported --store-driver %q", driver)
	}
}

func serveMetrics(addr string, metrics *telemetry.Metrics, store ingest.Store, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", telemetry.HealthzHandler(store, 2*time.Second))
	log.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server exited", "err", err)
	}
}
