package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/onchainflow/logindexer/internal/domainoutbox"
)

// Submitter turns one pending domain command into an on-chain
// transaction. Nonce management, gas pricing, and signing are entirely
// its concern; Executor treats a successful call as opaque proof of
// submission and a failed call as "retry next iteration".
type Submitter interface {
	Submit(ctx context.Context, cmd domainoutbox.Command) (txHash string, err error)
}

// BacklogRecorder receives the executor's pending-count gauge on every
// tick. Implemented by internal/telemetry; kept as a narrow interface
// here so executor never imports the metrics package directly.
type BacklogRecorder interface {
	SetDomainOutboxUnpublished(n int)
}

type nopBacklogRecorder struct{}

func (nopBacklogRecorder) SetDomainOutboxUnpublished(int) {}

type Config struct {
	BatchSize int

	// Enabled, when false, disables submission attempts while still letting
	// dispatcher handlers enqueue commands, for draining before
	// maintenance.
	Enabled bool

	IdleSleep time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type Executor struct {
	cfg       Config
	store     Store
	submitter Submitter
	recorder  BacklogRecorder
	log       *slog.Logger
}

func New(cfg Config, store Store, submitter Submitter, log *slog.Logger) (*Executor, error) {
	return NewWithRecorder(cfg, store, submitter, nil, log)
}

// NewWithRecorder is New plus an optional metrics recorder; recorder may
// be nil, in which case backlog observations are dropped.
func NewWithRecorder(cfg Config, store Store, submitter Submitter, recorder BacklogRecorder, log *slog.Logger) (*Executor, error) {
	if store == nil || submitter == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 300 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if recorder == nil {
		recorder = nopBacklogRecorder{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Executor{cfg: cfg, store: store, submitter: submitter, recorder: recorder, log: log}, nil
}

// Tick reports the current backlog gauge and, if enabled, submits at most
// BatchSize pending commands. It returns the number of commands this call
// actually caused to transition to published (excludes rows another
// executor won the race for).
func (e *Executor) Tick(ctx context.Context) (int, error) {
	if e == nil || e.store == nil {
		return 0, fmt.Errorf("%w: nil executor", ErrInvalidConfig)
	}

	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("executor: pending count: %w", err)
	}
	e.log.Info("executor backlog", "domain_outbox_unpublished", pending)
	e.recorder.SetDomainOutboxUnpublished(pending)

	if !e.cfg.Enabled {
		return 0, nil
	}

	cmds, err := e.store.SelectPending(ctx, e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("executor: select pending: %w", err)
	}
	if len(cmds) == 0 {
		return 0, nil
	}

	settled := 0
	for _, cmd := range cmds {
		txHash, err := e.submitter.Submit(ctx, cmd)
		if err != nil {
			e.log.Error("executor submit", "command_key", cmd.CommandKey, "err", err)
			if merr := e.store.MarkFailed(ctx, cmd.CommandKey, err.Error()); merr != nil {
				e.log.Error("executor mark failed", "command_key", cmd.CommandKey, "err", merr)
			}
			continue
		}

		won, err := e.store.MarkPublished(ctx, cmd.CommandKey, txHash)
		if err != nil {
			e.log.Error("executor mark published", "command_key", cmd.CommandKey, "err", err)
			continue
		}
		if won {
			settled++
		}
	}
	return settled, nil
}

func (e *Executor) Run(ctx context.Context) error {
	if e == nil || e.store == nil {
		return fmt.Errorf("%w: nil executor", ErrInvalidConfig)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := e.Tick(ctx)
		if err != nil {
			e.log.Error("executor tick", "err", err)
		}
		if err != nil || n == 0 {
			if serr := e.cfg.Sleep(ctx, e.cfg.IdleSleep); serr != nil {
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
