// Command domain-executor drains the domain outbox, submitting each
// pending command through the configured Submitter. The rawtx submitter
// expects payload.raw_tx to already carry a signed transaction (this
// binary never holds key material, matching rpcadapter's WriteClient
// contract); the log submitter is a no-signing stand-in for local runs
// and for handlers, like examples/erc20projector, whose payload has no
// raw_tx field yet.
package main

import (
	"context"
	"encoding/json"
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

	"github.com/onchainflow/logindexer/internal/cliutil"
	"github.com/onchainflow/logindexer/internal/domainoutbox"
	"github.com/onchainflow/logindexer/internal/executor"
	executorpg "github.com/onchainflow/logindexer/internal/executor/postgres"
	"github.com/onchainflow/logindexer/internal/rpcadapter"
	"github.com/onchainflow/logindexer/internal/telemetry"
)

func main() {
	var (
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")
		storeDriver = flag.String("store-driver", "postgres", "executor store driver: postgres|memory")

		submitterDriver = flag.String("submitter-driver", "log", "command submitter: rawtx|log")
		rpcURL          = flag.String("rpc-url", "", "chain JSON-RPC endpoint URL (required when --submitter-driver=rawtx)")

		batchSize = flag.Int("batch-size", 100, "max commands submitted per tick")
		enabled   = flag.Bool("enabled", true, "submit pending commands (false drains the backlog gauge only)")
		idleSleep = flag.Duration("idle-sleep", 300*time.Millisecond, "sleep after an empty batch")

		rpsMax           = flag.Float64("rpc-rps-max", 5, "write pool rate limit, requests/sec")
		rpcBurst         = flag.Int("rpc-burst", 0, "write pool token bucket burst (default: rpc-rps-max)")
		sendDeadline     = flag.Duration("rpc-send-deadline", 5*time.Second, "per-call send_raw_transaction deadline")
		failureThreshold = flag.Uint("rpc-failure-threshold", 5, "consecutive failures before the breaker opens")
		openSeconds      = flag.Duration("rpc-open-seconds", 30*time.Second, "breaker open-state duration")

		metricsAddr = flag.String("metrics-addr", ":9093", "listen address for /metrics and /healthz")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pool, err := openExecutorStore(ctx, *storeDriver, *postgresDSN)
	if err != nil {
		log.Error("init executor store", "err", err)
		os.Exit(2)
	}
	if pool != nil {
		defer pool.Close()
	}

	metrics := telemetry.New()

	submitter, cleanup, err := buildSubmitter(ctx, *submitterDriver, *rpcURL, rpcadapter.WriteConfig{
		RPSMax:           *rpsMax,
		Burst:            *rpcBurst,
		SendDeadline:     *sendDeadline,
		FailureThreshold: uint32(*failureThreshold),
		OpenSeconds:      *openSeconds,
	}, metrics, log)
	if err != nil {
		log.Error("init submitter", "err", err)
		os.Exit(2)
	}
	defer cleanup()

	ex, err := executor.NewWithRecorder(executor.Config{
		BatchSize: *batchSize,
		Enabled:   *enabled,
		IdleSleep: *idleSleep,
	}, store, submitter, metrics, log)
	if err != nil {
		log.Error("init executor", "err", err)
		os.Exit(2)
	}

	go serveMetrics(*metricsAddr, metrics, store, log)

	log.Info("domain-executor started", "submitterDriver", *submitterDriver, "storeDriver", *storeDriver, "enabled", *enabled)
	if err := ex.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("executor exited", "err", err)
		os.Exit(1)
	}
}

func openExecutorStore(ctx context.Context, driver, dsn string) (executor.Store, *pgxpool.Pool, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		if strings.TrimSpace(dsn) == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn is required when --store-driver=postgres")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("init pgx pool: %w", err)
		}
		store, err := executorpg.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure executor schema: %w", err)
		}
		return store, pool, nil
	case "memory":
		return executor.NewMemoryStore(nil), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported --store-driver %q", driver)
	}
}

func buildSubmitter(ctx context.Context, driver, rpcURL string, cfg rpcadapter.WriteConfig, recorder rpcadapter.Recorder, log *slog.Logger) (executor.Submitter, func(), error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "rawtx":
		if strings.TrimSpace(rpcURL) == "" {
			return nil, func() {}, fmt.Errorf("--rpc-url is required when --submitter-driver=rawtx")
		}
		client, err := gethrpc.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("dial rpc: %w", err)
		}
		write, err := rpcadapter.NewWriteClient(client, cfg, recorder, log)
		if err != nil {
			client.Close()
			return nil, func() {}, err
		}
		return rawTxSubmitter{write: write}, func() { client.Close() }, nil
	case "log":
		return logSubmitter{log: log}, func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unsupported --submitter-driver %q", driver)
	}
}

// rawTxSubmitter expects payload {"raw_tx": "0x..."} - the pre-signed
// transaction bytes a dispatcher handler (or an operator's sidecar
// signer) already produced.
type rawTxSubmitter struct {
	write rpcadapter.WriteClient
}

type rawTxPayload struct {
	RawTx string `json:"raw_tx"`
}

func (s rawTxSubmitter) Submit(ctx context.Context, cmd domainoutbox.Command) (string, error) {
	var p rawTxPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return "", fmt.Errorf("decode raw_tx payload: %w", err)
	}
	raw, err := cliutil.DecodeHexBytes(p.RawTx)
	if err != nil {
		return "", fmt.Errorf("decode raw_tx: %w", err)
	}
	return s.write.SendRawTransaction(ctx, raw)
}

// logSubmitter never touches the chain; it logs the command and returns a
// synthetic hash, for local runs and for command kinds like
// examples/erc20projector's "mint" that carry no raw_tx yet.
type logSubmitter struct {
	log *slog.Logger
}

func (s logSubmitter) Submit(_ context.Context, cmd domainoutbox.Command) (string, error) {
	s.log.Info("submit (log driver)", "command_key", cmd.CommandKey, "kind", cmd.Kind, "payload", string(cmd.Payload))
	return "0xlog-" + cmd.CommandKey, nil
}

func serveMetrics(addr string, metrics *telemetry.Metrics, store executor.Store, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", telemetry.HealthzHandler(store, 2*time.Second))
	log.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server exited", "err", err)
	}
}
