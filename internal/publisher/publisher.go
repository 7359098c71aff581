// Package publisher implements the Ingest Publisher: it selects batches
// of unpublished IngestEvent rows and hands each to a transport sink,
// stamping published_at regardless of the sink's outcome. The stamp-on-
// failure behavior is load-bearing (see the package-level doc on
// internal/ingest.Store.MarkPublished) and is preserved here exactly as
// the distilled spec describes it, even though the safer alternative
// (stamp only on success, dead-letter the rest) was considered and
// rejected — see DESIGN.md.
//
// The batch/sink/mark loop and its idle-sleep Run wrapper are grounded on
// the same Config.Now/Config.Sleep pattern used throughout this module
// (internal/eth.Relayer, internal/scanner.Scanner).
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/onchainflow/logindexer/internal/ingest"
)

var ErrInvalidConfig = errors.New("publisher: invalid config")

// Sink delivers one event's payload to a transport. Its return value
// (success or error) never prevents the row from being stamped published;
// Sink implementations that need redelivery guarantees must provide their
// own retry or dead-letter handling internally.
type Sink func(ctx context.Context, msg ingest.OutboxMessage) error

type Config struct {
	BatchSize int
	IdleSleep time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 250 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
}

type Publisher struct {
	store ingest.Store
	sink  Sink
	cfg   Config
	log   *slog.Logger
}

func New(cfg Config, store ingest.Store, sink Sink, log *slog.Logger) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	}
	cfg.applyDefaults()
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Publisher{store: store, sink: sink, cfg: cfg, log: log}, nil
}

// Tick selects one batch and returns how many rows it attempted (and
// stamped), regardless of how many the sink actually accepted.
func (p *Publisher) Tick(ctx context.Context) (int, error) {
	msgs, err := p.store.SelectUnpublished(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("publisher: select unpublished: %w", err)
	}

	for _, msg := range msgs {
		if err := p.sink(ctx, msg); err != nil {
			p.log.Warn("publisher sink failed, stamping published anyway", "event_id", msg.EventID, "error", err)
		}
		if err := p.store.MarkPublished(ctx, msg.EventID); err != nil {
			return 0, fmt.Errorf("publisher: mark published %s: %w", msg.EventID, err)
		}
	}
	return len(msgs), nil
}

func (p *Publisher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.Tick(ctx)
		if err != nil {
			p.log.Warn("publisher tick failed", "error", err)
		}
		if err != nil || n == 0 {
			if err := p.cfg.Sleep(ctx, p.cfg.IdleSleep); err != nil {
				return err
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
