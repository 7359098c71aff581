package rpcadapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/onchainflow/logindexer/internal/ingest"
)

// ReadClient exposes the two read-side chain capabilities the Ingest
// Scanner needs, each independently rate limited, breaker-guarded, and
// deadline-bounded.
type ReadClient interface {
	GetHeadBlock(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, filter ingest.Filter, deadline time.Duration) ([]ingest.Log, error)
}

type ReadConfig struct {
	RPSMax float64
	Burst  int

	HeadDeadline time.Duration
	LogsDeadline time.Duration

	FailureThreshold uint32
	OpenSeconds      time.Duration
}

func (c *ReadConfig) applyDefaults() {
	if c.RPSMax <= 0 {
		c.RPSMax = 10
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RPSMax)
		if c.Burst <= 0 {
			c.Burst = 1
		}
	}
	if c.HeadDeadline <= 0 {
		c.HeadDeadline = time.Second
	}
	if c.LogsDeadline <= 0 {
		c.LogsDeadline = 15 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenSeconds <= 0 {
		c.OpenSeconds = 5 * time.Second
	}
}

type readAdapter struct {
	client   *gethrpc.Client
	cfg      ReadConfig
	limiter  *rate.Limiter
	head     *gobreaker.CircuitBreaker[uint64]
	logs     *gobreaker.CircuitBreaker[[]ingest.Log]
	recorder Recorder
	log      *slog.Logger
}

// NewReadClient wraps client with the rate-limit/breaker/deadline stack
// described in the RPC Adapter component.
func NewReadClient(client *gethrpc.Client, cfg ReadConfig, recorder Recorder, log *slog.Logger) (ReadClient, error) {
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

	a := &readAdapter{
		client:   client,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPSMax), cfg.Burst),
		recorder: recorder,
		log:      log,
	}
	a.head = gobreaker.NewCircuitBreaker[uint64](breakerSettings[uint64]("rpcadapter.read.head", cfg, recorder))
	a.logs = gobreaker.NewCircuitBreaker[[]ingest.Log](breakerSettings[[]ingest.Log]("rpcadapter.read.logs", cfg, recorder))
	return a, nil
}

func (a *readAdapter) GetHeadBlock(ctx context.Context) (uint64, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	head, err := a.head.Execute(func() (uint64, error) {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.HeadDeadline)
		defer cancel()

		var raw string
		if err := a.client.CallContext(cctx, &raw, "eth_blockNumber"); err != nil {
			return 0, classifyErr(cctx, err)
		}
		n, err := hexToUint64(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: parse block number: %v", ErrTransport, err)
		}
		return n, nil
	})
	a.recorder.ObserveRPCRequest("eth_blockNumber", err, time.Since(start).Seconds())
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, ErrCircuitOpen
	}
	return head, err
}

func (a *readAdapter) GetLogs(ctx context.Context, filter ingest.Filter, deadline time.Duration) ([]ingest.Log, error) {
	if deadline <= 0 {
		deadline = a.cfg.LogsDeadline
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	logs, err := a.logs.Execute(func() ([]ingest.Log, error) {
		cctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		params := map[string]any{
			"fromBlock": uint64ToHex(filter.FromBlock),
			"toBlock":   uint64ToHex(filter.ToBlock),
		}
		if filter.Address != nil {
			params["address"] = filter.Address.Hex()
		}
		if filter.Topic0 != nil {
			params["topics"] = []string{filter.Topic0.Hex()}
		}

		var raw []rawLog
		if err := a.client.CallContext(cctx, &raw, "eth_getLogs", params); err != nil {
			return nil, classifyErr(cctx, err)
		}
		out := make([]ingest.Log, 0, len(raw))
		for _, r := range raw {
			l, err := r.toLog()
			if err != nil {
				return nil, fmt.Errorf("%w: decode log: %v", ErrTransport, err)
			}
			out = append(out, l)
		}
		return out, nil
	})
	a.recorder.ObserveRPCRequest("eth_getLogs", err, time.Since(start).Seconds())
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return logs, err
}

// rawLog mirrors the bit-exact JSON-RPC log shape: hex-encoded numeric
// fields, lowercase 0x-prefixed addresses/hashes.
type rawLog struct {
	Address          string   `json:"address"`
	BlockHash        string   `json:"blockHash"`
	BlockNumber      string   `json:"blockNumber"`
	Data             string   `json:"data"`
	LogIndex         string   `json:"logIndex"`
	Topics           []string `json:"topics"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
}

func (r rawLog) toLog() (ingest.Log, error) {
	blockNumber, err := hexToUint64(r.BlockNumber)
	if err != nil {
		return ingest.Log{}, fmt.Errorf("blockNumber: %w", err)
	}
	logIndex, err := hexToUint64(r.LogIndex)
	if err != nil {
		return ingest.Log{}, fmt.Errorf("logIndex: %w", err)
	}
	txIndex, err := hexToUint64(r.TransactionIndex)
	if err != nil {
		return ingest.Log{}, fmt.Errorf("transactionIndex: %w", err)
	}
	data, err := hex.DecodeString(strings.TrimPrefix(r.Data, "0x"))
	if err != nil {
		return ingest.Log{}, fmt.Errorf("data: %w", err)
	}
	topics := make([]common.Hash, 0, len(r.Topics))
	for _, t := range r.Topics {
		topics = append(topics, common.HexToHash(t))
	}
	return ingest.Log{
		Address:          common.HexToAddress(r.Address),
		BlockHash:        common.HexToHash(r.BlockHash),
		BlockNumber:      blockNumber,
		Data:             data,
		LogIndex:         logIndex,
		Topics:           topics,
		TransactionHash:  common.HexToHash(r.TransactionHash),
		TransactionIndex: txIndex,
	}, nil
}

func hexToUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

func uint64ToHex(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func classifyErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrTimeout
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func breakerSettings[T any](name string, cfg ReadConfig, recorder Recorder) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.OpenSeconds,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if from == gobreaker.StateOpen {
				recorder.ObserveCircuitOpenSeconds(name, cfg.OpenSeconds.Seconds())
			}
		},
	}
}
