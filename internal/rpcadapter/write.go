package rpcadapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// WriteClient exposes raw transaction submission for the Domain Command
// Executor. It deliberately accepts a pre-signed raw transaction rather
// than a signer, so rpcadapter never holds key material.
type WriteClient interface {
	SendRawTransaction(ctx context.Context, raw []byte) (txHash string, err error)
}

type WriteConfig struct {
	RPSMax float64
	Burst  int

	SendDeadline time.Duration

	FailureThreshold uint32
	OpenSeconds      time.Duration
}

func (c *WriteConfig) applyDefaults() {
	if c.RPSMax <= 0 {
		c.RPSMax = 5
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RPSMax)
		if c.Burst <= 0 {
			c.Burst = 1
		}
	}
	if c.SendDeadline <= 0 {
		c.SendDeadline = 5 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenSeconds <= 0 {
		c.OpenSeconds = 5 * time.Second
	}
}

type writeAdapter struct {
	client   *gethrpc.Client
	cfg      WriteConfig
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[string]
	recorder Recorder
	log      *slog.Logger
}

// NewWriteClient wraps client for eth_sendRawTransaction submissions, under
// its own rate limiter and breaker pool, independent from the read side.
func NewWriteClient(client *gethrpc.Client, cfg WriteConfig, recorder Recorder, log *slog.Logger) (WriteClient, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil rpc client", ErrInvalidConfig)
	}
	cfg.applyDefaults()
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	a := &writeAdapter{
		client:   client,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPSMax), cfg.Burst),
		recorder: recorder,
		log:      log,
	}
	a.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "rpcadapter.write.send",
		MaxRequests: 1,
		Timeout:     cfg.OpenSeconds,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if from == gobreaker.StateOpen {
				recorder.ObserveCircuitOpenSeconds("rpcadapter.write.send", cfg.OpenSeconds.Seconds())
			}
		},
	})
	return a, nil
}

func (a *writeAdapter) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	start := time.Now()
	hash, err := a.breaker.Execute(func() (string, error) {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.SendDeadline)
		defer cancel()

		var txHash string
		if err := a.client.CallContext(cctx, &txHash, "eth_sendRawTransaction", "0x"+hex.EncodeToString(raw)); err != nil {
			return "", classifyErr(cctx, err)
		}
		return txHash, nil
	})
	a.recorder.ObserveRPCRequest("eth_sendRawTransaction", err, time.Since(start).Seconds())
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrCircuitOpen
	}
	return hash, err
}
