// Package rpcadapter wraps a chain JSON-RPC endpoint with three layered
// policies applied to every call, in order: rate limiting, circuit
// breaking, and a per-call deadline. It exposes a narrow ReadClient
// (head/logs) and WriteClient (raw transaction submission) rather than the
// full go-ethereum client surface, grounded on the teacher's Backend
// interface in internal/eth (a narrow capability interface hiding a
// concrete RPC/ethclient dependency behind a handful of methods the rest
// of the codebase actually calls).
package rpcadapter

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by the constructors for a nil client or an
// invalid configuration value.
var ErrInvalidConfig = errors.New("rpcadapter: invalid config")

// ErrCircuitOpen is returned immediately, without attempting the call,
// when the breaker for that pool is Open.
var ErrCircuitOpen = errors.New("rpcadapter: circuit open")

// ErrTimeout is returned when a call's per-method deadline elapses.
var ErrTimeout = errors.New("rpcadapter: timeout")

// ErrTransport is returned for network-level failures (dial, reset,
// connection refused) that are not themselves a decoded RPC error.
var ErrTransport = errors.New("rpcadapter: transport error")

// RPCError is a protocol-level error returned by the remote endpoint, e.g.
// a malformed request or an unsupported method.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpcadapter: rpc error %d: %s", e.Code, e.Message)
}

// Recorder receives per-call outcome events for the /metrics surface.
// Implemented by internal/telemetry; rpcadapter depends only on this
// narrow interface so it never imports the metrics package directly.
type Recorder interface {
	ObserveRPCRequest(method string, err error, elapsedSeconds float64)
	ObserveCircuitOpenSeconds(pool string, openSeconds float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRPCRequest(string, error, float64)  {}
func (nopRecorder) ObserveCircuitOpenSeconds(string, float64) {}
