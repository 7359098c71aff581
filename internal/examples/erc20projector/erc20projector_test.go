package erc20projector

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/onchainflow/logindexer/internal/dispatcher"
)

// fakeTx is a minimal dispatcher.DBTX recording every Exec call; this
// package's handler never calls Query/QueryRow, so those are unused stubs.
type fakeTx struct {
	execs []string
	args  [][]any
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

var _ dispatcher.DBTX = (*fakeTx)(nil)

func transferEvent(t *testing.T, from, to common.Address, amountHex string) dispatcher.Event {
	t.Helper()
	payload, err := json.Marshal(transferLogPayload{
		Topics: []string{
			transferTopic0.Hex(),
			common.HexToHash(from.Hex()).Hex(),
			common.HexToHash(to.Hex()).Hex(),
		},
		Data: "0x" + amountHex,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return dispatcher.Event{
		EventID: "evt-1",
		Address: common.HexToAddress("0x0000000000000000000000000000000000000009"),
		Topic0:  transferTopic0,
		Payload: payload,
	}
}

func TestHandle_CreditsRecipientAndEnqueuesMint(t *testing.T) {
	t.Parallel()

	from := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to := common.HexToAddress("0x0000000000000000000000000000000000000002")
	ev := transferEvent(t, from, to, "64")

	tx := &fakeTx{}
	if err := Handle(context.Background(), tx, []dispatcher.Event{ev}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var sawDebit, sawCredit, sawMint bool
	for _, sql := range tx.execs {
		switch {
		case strings.Contains(sql, "balance = domain.erc20_balances.balance - $3"):
			sawDebit = true
		case strings.Contains(sql, "balance = domain.erc20_balances.balance + $3"):
			sawCredit = true
		case strings.Contains(sql, "domain.domain_outbox"):
			sawMint = true
		}
	}
	if !sawDebit || !sawCredit || !sawMint {
		t.Fatalf("expected debit, credit, and mint enqueue execs, got %v", tx.execs)
	}
}

func TestHandle_SkipsNonTransferEvents(t *testing.T) {
	t.Parallel()

	ev := dispatcher.Event{
		EventID: "evt-2",
		Topic0:  common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000"),
		Payload: json.RawMessage(`{}`),
	}

	tx := &fakeTx{}
	if err := Handle(context.Background(), tx, []dispatcher.Event{ev}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(tx.execs) != 0 {
		t.Fatalf("expected no execs for a non-transfer event, got %v", tx.execs)
	}
}

func TestHandle_MintCommandKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	from := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to := common.HexToAddress("0x0000000000000000000000000000000000000002")
	ev := transferEvent(t, from, to, "64")

	tx := &fakeTx{}
	if err := Handle(context.Background(), tx, []dispatcher.Event{ev}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var key string
	for i, sql := range tx.execs {
		if strings.Contains(sql, "domain.domain_outbox") {
			key, _ = tx.args[i][0].(string)
		}
	}
	want := "mint:" + ev.Address.Hex() + ":" + to.Hex() + ":100"
	if key != want {
		t.Fatalf("expected command key %q, got %q", want, key)
	}
}
