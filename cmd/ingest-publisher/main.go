// Command ingest-publisher drains the ingest outbox onto the configured
// queue transport, stamping every row published regardless of sink
// outcome (see internal/publisher's package doc for why).
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

	"github.com/onchainflow/logindexer/internal/ingest"
	ingestpg "github.com/onchainflow/logindexer/internal/ingest/postgres"
	"github.com/onchainflow/logindexer/internal/publisher"
	"github.com/onchainflow/logindexer/internal/queue"
	"github.com/onchainflow/logindexer/internal/telemetry"
)

func main() {
	var (
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")
		storeDriver = flag.String("store-driver", "postgres", "ingest store driver: postgres|memory")

		batchSize = flag.Int("batch-size", 500, "max rows selected per tick")
		idleSleep = flag.Duration("idle-sleep", 250*time.Millisecond, "sleep after an empty batch")

		queueDriver = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueTopic  = flag.String("queue-topic", "logindexer.ingest.events.v1", "destination topic for published events")
		brokers     = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")

		metricsAddr = flag.String("metrics-addr", ":9091", "listen address for /healthz")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

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

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*brokers),
	})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = producer.Close() }()

	sink := func(ctx context.Context, msg ingest.OutboxMessage) error {
		return producer.Publish(ctx, *queueTopic, queue.Envelope{
			EventKey:    msg.PartitionKey,
			EventID:     msg.EventID,
			BlockNumber: msg.BlockNumber,
			Payload:     msg.Payload,
		})
	}

	p, err := publisher.New(publisher.Config{
		BatchSize: *batchSize,
		IdleSleep: *idleSleep,
	}, store, sink, log)
	if err != nil {
		log.Error("init publisher", "err", err)
		os.Exit(2)
	}

	go serveHealthz(*metricsAddr, store, log)

	log.Info("ingest-publisher started", "queueDriver", *queueDriver, "queueTopic", *queueTopic, "storeDriver", *storeDriver)
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("publisher exited", "err", err)
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

func serveHealthz(addr string, store ingest.Store, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", telemetry.HealthzHandler(store, 2*time.Second))
	log.Info("serving healthz", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("healthz server exited", "err", err)
	}
}
