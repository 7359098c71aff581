package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/onchainflow/logindexer/internal/inbox"
)

var ErrInvalidConfig = errors.New("dispatcher: invalid config")

// Recorder receives one inbox_attempts_total increment per settled event,
// keyed by its terminal status for this tick ("ack", "fail", or "dlq").
// Implemented by internal/telemetry; kept narrow so dispatcher never
// imports the metrics package directly.
type Recorder interface {
	RecordInboxAttempt(handlerKind, status string)
}

type nopRecorder struct{}

func (nopRecorder) RecordInboxAttempt(string, string) {}

type Config struct {
	HandlerKind string
	Selector    string

	BatchSize   int
	MaxAttempts int

	// IdleSleep is how long Run waits after an empty batch before
	// re-polling. Per-spec default is 200ms.
	IdleSleep time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type Dispatcher struct {
	cfg      Config
	store    Store
	handle   Handler
	recorder Recorder
	log      *slog.Logger
}

func New(cfg Config, store Store, handle Handler, log *slog.Logger) (*Dispatcher, error) {
	return NewWithRecorder(cfg, store, handle, nil, log)
}

// NewWithRecorder is New plus an optional metrics recorder; recorder may
// be nil, in which case per-status counts are dropped.
func NewWithRecorder(cfg Config, store Store, handle Handler, recorder Recorder, log *slog.Logger) (*Dispatcher, error) {
	if store == nil || handle == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.HandlerKind == "" {
		return nil, fmt.Errorf("%w: handler kind is required", ErrInvalidConfig)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Dispatcher{cfg: cfg, store: store, handle: handle, recorder: recorder, log: log}, nil
}

// Tick runs exactly one claim/handle/settle batch and returns the number of
// events claimed. It is the unit the test suite and Run both drive.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	if d == nil || d.store == nil {
		return 0, fmt.Errorf("%w: nil dispatcher", ErrInvalidConfig)
	}
	before, err := d.store.CountsByStatus(ctx, d.cfg.HandlerKind)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: counts before batch: %w", err)
	}

	n, err := d.store.RunBatch(ctx, d.cfg.HandlerKind, d.cfg.Selector, d.cfg.BatchSize, d.cfg.MaxAttempts, d.handle)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: run batch: %w", err)
	}

	after, err := d.store.CountsByStatus(ctx, d.cfg.HandlerKind)
	if err != nil {
		return n, fmt.Errorf("dispatcher: counts after batch: %w", err)
	}
	d.recordDeltas(before, after)
	return n, nil
}

func (d *Dispatcher) recordDeltas(before, after map[inbox.Status]int) {
	for _, st := range []inbox.Status{inbox.StatusAck, inbox.StatusFail, inbox.StatusDLQ} {
		delta := after[st] - before[st]
		for i := 0; i < delta; i++ {
			d.recorder.RecordInboxAttempt(d.cfg.HandlerKind, st.String())
		}
	}
}

// Run polls Tick until ctx is cancelled, sleeping IdleSleep whenever a
// batch claims nothing. A batch error is logged and treated the same as an
// empty batch - the next iteration retries after the idle sleep.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d == nil || d.store == nil {
		return fmt.Errorf("%w: nil dispatcher", ErrInvalidConfig)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.Tick(ctx)
		if err != nil {
			d.log.Error("dispatcher tick", "handler_kind", d.cfg.HandlerKind, "err", err)
		}
		if err != nil || n == 0 {
			if serr := d.cfg.Sleep(ctx, d.cfg.IdleSleep); serr != nil {
				return serr
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
