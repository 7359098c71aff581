// Package scanner implements the Ingest Scanner: one adaptive-step loop
// per shard that fetches the chain head, computes a bounded block range,
// fans out get_logs across the shard's subscriptions, and durably
// persists the resulting events in a single transaction through
// internal/ingest.Store. The step-widen/narrow control loop and the
// injectable clock/sleep are grounded on the teacher's internal/eth.Relayer
// (Config.Now/Config.Sleep, sleepCtx helper) generalized from a
// send-and-replace loop to a fetch-and-narrow loop.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onchainflow/logindexer/internal/ingest"
	"github.com/onchainflow/logindexer/internal/partition"
)

var ErrInvalidConfig = errors.New("scanner: invalid config")

// ReadClient is the narrow capability this package depends on; satisfied
// by rpcadapter.ReadClient.
type ReadClient interface {
	GetHeadBlock(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, filter ingest.Filter, deadline time.Duration) ([]ingest.Log, error)
}

type Config struct {
	ShardID       string
	Subscriptions []ingest.Subscription
	ShardCount    uint32

	StepInit int
	StepMin  int
	StepMax  int

	PollInterval time.Duration
	LogsDeadline time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *Config) applyDefaults() error {
	if c.ShardID == "" {
		return fmt.Errorf("%w: empty shard id", ErrInvalidConfig)
	}
	if c.StepInit <= 0 {
		c.StepInit = 1000
	}
	if c.StepMin <= 0 {
		c.StepMin = 1
	}
	if c.StepMax <= 0 {
		c.StepMax = 20000
	}
	if c.StepMin > c.StepMax {
		return fmt.Errorf("%w: step_min > step_max", ErrInvalidConfig)
	}
	if c.StepInit < c.StepMin || c.StepInit > c.StepMax {
		return fmt.Errorf("%w: step_init out of [step_min, step_max]", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LogsDeadline <= 0 {
		c.LogsDeadline = 15 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	return nil
}

// Scanner advances a single shard's cursor. It is not safe to run more
// than one Scanner for the same shard ID concurrently.
type Scanner struct {
	read     ReadClient
	store    ingest.Store
	cfg      Config
	recorder BacklogRecorder
	log      *slog.Logger

	step int
}

// BacklogRecorder receives the head-minus-cursor gauge on every tick.
// Implemented by internal/telemetry; kept narrow so scanner never imports
// the metrics package directly.
type BacklogRecorder interface {
	SetBacklog(shard string, head, cursor uint64)
}

type nopBacklogRecorder struct{}

func (nopBacklogRecorder) SetBacklog(string, uint64, uint64) {}

func New(cfg Config, read ReadClient, store ingest.Store, log *slog.Logger) (*Scanner, error) {
	return NewWithRecorder(cfg, read, store, nil, log)
}

// NewWithRecorder is New plus an optional metrics recorder; recorder may
// be nil, in which case backlog observations are dropped.
func NewWithRecorder(cfg Config, read ReadClient, store ingest.Store, recorder BacklogRecorder, log *slog.Logger) (*Scanner, error) {
	if read == nil {
		return nil, fmt.Errorf("%w: nil read client", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = nopBacklogRecorder{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Scanner{
		read:     read,
		store:    store,
		cfg:      cfg,
		recorder: recorder,
		log:      log,
		step:     cfg.StepInit,
	}, nil
}

// Tick runs one iteration of the state machine and returns the number of
// events persisted (0 on an idle or empty range, never negative). A
// non-nil error always means the step was narrowed and the cursor did
// not advance.
func (s *Scanner) Tick(ctx context.Context) (int, error) {
	head, err := s.read.GetHeadBlock(ctx)
	if err != nil {
		s.narrow()
		return 0, fmt.Errorf("scanner: get head block: %w", err)
	}

	hwm, err := s.store.GetCursor(ctx, s.cfg.ShardID)
	if err != nil {
		s.narrow()
		return 0, fmt.Errorf("scanner: get cursor: %w", err)
	}
	s.recorder.SetBacklog(s.cfg.ShardID, head, hwm)
	if head <= hwm {
		return 0, nil
	}

	from := hwm + 1
	to := head
	if max := from + uint64(s.step) - 1; to > max {
		to = max
	}

	filters := ingest.BuildFilters(s.cfg.Subscriptions, from, to)
	events, err := s.fetchLogs(ctx, filters)
	if err != nil {
		s.narrow()
		return 0, fmt.Errorf("scanner: get logs: %w", err)
	}

	ingestEvents := make([]ingest.IngestEvent, 0, len(events))
	for _, l := range events {
		payload, err := logPayload(l)
		if err != nil {
			s.narrow()
			return 0, fmt.Errorf("scanner: encode payload: %w", err)
		}
		key := partition.Key(l.Address, s.cfg.ShardCount)
		ingestEvents = append(ingestEvents, ingest.FromLog(l, key, payload))
	}

	n, err := s.store.AppendChunk(ctx, s.cfg.ShardID, ingestEvents, to)
	if err != nil {
		s.narrow()
		return 0, fmt.Errorf("scanner: append chunk: %w", err)
	}

	s.widen()
	return n, nil
}

// fetchLogs fans filters out concurrently (spec step 5) and flattens the
// results. Mirrors this module's cmd/ingest-scanner multi-shard
// errgroup fan-out, here applied within a single shard across filters.
func (s *Scanner) fetchLogs(ctx context.Context, filters []ingest.Filter) ([]ingest.Log, error) {
	results := make([][]ingest.Log, len(filters))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range filters {
		i, f := i, f
		g.Go(func() error {
			logs, err := s.read.GetLogs(gctx, f, s.cfg.LogsDeadline)
			if err != nil {
				return err
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ingest.Log
	seen := make(map[string]struct{})
	for _, logs := range results {
		for _, l := range logs {
			id := l.EventID()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Scanner) widen() {
	s.step = s.step * 2
	if s.step > s.cfg.StepMax {
		s.step = s.cfg.StepMax
	}
}

func (s *Scanner) narrow() {
	s.step = s.step / 2
	if s.step < s.cfg.StepMin {
		s.step = s.cfg.StepMin
	}
}

// Run drives Tick in a loop until ctx is cancelled, sleeping PollInterval
// whenever an iteration is idle, empty, or fails.
func (s *Scanner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.Tick(ctx)
		if err != nil {
			s.log.Warn("scanner tick failed", "shard_id", s.cfg.ShardID, "error", err, "step", s.step)
		}
		if err != nil || n == 0 {
			if err := s.cfg.Sleep(ctx, s.cfg.PollInterval); err != nil {
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
