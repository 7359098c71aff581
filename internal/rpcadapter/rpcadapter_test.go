package rpcadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/onchainflow/logindexer/internal/ingest"
)

type jsonrpcReq struct {
	Method string            `json:"method"`
	ID     json.RawMessage   `json:"id"`
	Params []json.RawMessage `json:"params"`
}

// newStubServer returns an httptest server speaking plain JSON-RPC, backed
// by a handler that inspects the method name and returns a canned result or
// error.
func newStubServer(t *testing.T, handle func(method string) (result any, rpcErr *RPCError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, rpcErr := handle(req.Method)
		w.Header().Set("Content-Type", "application/json")
		if rpcErr != nil {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":%d,"message":%q}}`, string(req.ID), rpcErr.Code, rpcErr.Message)
			return
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			t.Fatalf("marshal result: %v", err)
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, string(req.ID), encoded)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialStub(t *testing.T, srv *httptest.Server) *gethrpc.Client {
	t.Helper()
	client, err := gethrpc.DialContext(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("dial stub rpc server: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestReadClient_GetHeadBlock(t *testing.T) {
	t.Parallel()

	srv := newStubServer(t, func(method string) (any, *RPCError) {
		if method != "eth_blockNumber" {
			t.Fatalf("unexpected method %q", method)
		}
		return "0x2a", nil
	})
	client, err := NewReadClient(dialStub(t, srv), ReadConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewReadClient: %v", err)
	}

	head, err := client.GetHeadBlock(context.Background())
	if err != nil {
		t.Fatalf("GetHeadBlock: %v", err)
	}
	if head != 42 {
		t.Fatalf("expected head 42, got %d", head)
	}
}

func TestReadClient_GetLogsDecodesHexFields(t *testing.T) {
	t.Parallel()

	srv := newStubServer(t, func(method string) (any, *RPCError) {
		if method != "eth_getLogs" {
			t.Fatalf("unexpected method %q", method)
		}
		return []rawLog{{
			Address:          "0x00000000000000000000000000000000000001",
			BlockHash:        "0x" + fmt.Sprintf("%064x", 1),
			BlockNumber:      "0x64",
			Data:             "0xdeadbeef",
			LogIndex:         "0x3",
			Topics:           []string{"0x" + fmt.Sprintf("%064x", 9)},
			TransactionHash:  "0x" + fmt.Sprintf("%064x", 2),
			TransactionIndex: "0x1",
		}}, nil
	})
	client, err := NewReadClient(dialStub(t, srv), ReadConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewReadClient: %v", err)
	}

	logs, err := client.GetLogs(context.Background(), ingest.Filter{FromBlock: 1, ToBlock: 2}, 0)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].BlockNumber != 100 {
		t.Fatalf("expected block number 100, got %d", logs[0].BlockNumber)
	}
	if logs[0].LogIndex != 3 {
		t.Fatalf("expected log index 3, got %d", logs[0].LogIndex)
	}
	if len(logs[0].Data) != 4 {
		t.Fatalf("expected 4 data bytes, got %d", len(logs[0].Data))
	}
}

func TestReadClient_RPCErrorIsTyped(t *testing.T) {
	t.Parallel()

	srv := newStubServer(t, func(method string) (any, *RPCError) {
		return nil, &RPCError{Code: -32000, Message: "boom"}
	})
	client, err := NewReadClient(dialStub(t, srv), ReadConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewReadClient: %v", err)
	}

	_, err = client.GetHeadBlock(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != -32000 {
		t.Fatalf("expected code -32000, got %d", rpcErr.Code)
	}
}

func TestReadClient_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var calls int64
	srv := newStubServer(t, func(method string) (any, *RPCError) {
		atomic.AddInt64(&calls, 1)
		return nil, &RPCError{Code: -32000, Message: "down"}
	})
	client, err := NewReadClient(dialStub(t, srv), ReadConfig{FailureThreshold: 2, OpenSeconds: time.Minute}, nil, nil)
	if err != nil {
		t.Fatalf("NewReadClient: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := client.GetHeadBlock(context.Background()); err == nil {
			t.Fatalf("expected error on call %d", i)
		}
	}

	before := atomic.LoadInt64(&calls)
	_, err = client.GetHeadBlock(context.Background())
	if err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if atomic.LoadInt64(&calls) != before {
		t.Fatalf("expected no additional upstream call while circuit is open")
	}
}

func TestWriteClient_SendRawTransaction(t *testing.T) {
	t.Parallel()

	srv := newStubServer(t, func(method string) (any, *RPCError) {
		if method != "eth_sendRawTransaction" {
			t.Fatalf("unexpected method %q", method)
		}
		return "0x" + fmt.Sprintf("%064x", 7), nil
	})
	client, err := NewWriteClient(dialStub(t, srv), WriteConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewWriteClient: %v", err)
	}

	hash, err := client.SendRawTransaction(context.Background(), []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("SendRawTransaction: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty tx hash")
	}
}
