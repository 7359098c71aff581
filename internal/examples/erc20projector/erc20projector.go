// Package erc20projector is a worked example of a dispatcher.Handler: it
// decodes ERC-20 Transfer(address,address,uint256) logs, maintains a toy
// running-balances table inside the same transaction as the inbox claim,
// and enqueues a domain_outbox mint command for the Domain Executor to
// carry out downstream. It exists to show, end to end, how a concrete
// handler_kind is wired to dispatcher.New and how it reaches into
// domain.domain_outbox without internal/executor's Store ever being
// involved - the handler owns that insert directly, inside tx, matching
// the teacher's convention of a handler doing its own writes against the
// transaction it is handed rather than going through another component's
// Store interface.
package erc20projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onchainflow/logindexer/internal/dispatcher"
)

// transferTopic0 is keccak256("Transfer(address,address,uint256)").
var transferTopic0 = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

var errMalformedTransfer = errors.New("erc20projector: malformed transfer log")

// mintPayload is the domain_outbox payload shape for a mint command.
type mintPayload struct {
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// HandlerKind is the conventional handler_kind this example registers
// under; callers are free to run it under a different name.
const HandlerKind = "erc20projector"

// Handle is a dispatcher.Handler. Events whose topic0 is not Transfer are
// skipped rather than failed, since a shared handler_kind selector may
// match logs this projector does not care about. A Transfer event that
// does not decode (not exactly 3 topics, or malformed data) fails the batch.
func Handle(ctx context.Context, tx dispatcher.DBTX, events []dispatcher.Event) error {
	for _, ev := range events {
		if ev.Topic0 != transferTopic0 {
			continue
		}
		from, to, amount, err := decodeTransfer(ev)
		if err != nil {
			return fmt.Errorf("erc20projector: event %s: %w", ev.EventID, err)
		}

		if err := applyBalances(ctx, tx, ev.Address, from, to, amount); err != nil {
			return fmt.Errorf("erc20projector: event %s: apply balances: %w", ev.EventID, err)
		}

		if err := enqueueMint(ctx, tx, ev.Address, to, amount); err != nil {
			return fmt.Errorf("erc20projector: event %s: enqueue mint: %w", ev.EventID, err)
		}
	}
	return nil
}

// transferLogPayload mirrors the subset of internal/scanner's logEnvelope
// this handler needs: topics (indexed from/to) and the ABI-encoded amount
// in data.
type transferLogPayload struct {
	Topics []string `json:"topics"`
	Data   string   `json:"data"`
}

func decodeTransfer(ev dispatcher.Event) (from, to common.Address, amount *big.Int, err error) {
	var p transferLogPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("%w: %v", errMalformedTransfer, err)
	}
	if len(p.Topics) != 3 {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("%w: expected 3 topics, got %d", errMalformedTransfer, len(p.Topics))
	}

	from = common.HexToAddress(p.Topics[1])
	to = common.HexToAddress(p.Topics[2])

	data := p.Data
	if len(data) < 2 || data[:2] != "0x" {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("%w: data missing 0x prefix", errMalformedTransfer)
	}
	amount, ok := new(big.Int).SetString(data[2:], 16)
	if !ok {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("%w: amount not valid hex", errMalformedTransfer)
	}
	return from, to, amount, nil
}

// applyBalances maintains a toy domain.erc20_balances(token, holder,
// balance) table: debits from (unless it is the zero address, i.e. a
// mint) and credits to.
func applyBalances(ctx context.Context, tx dispatcher.DBTX, token, from, to common.Address, amount *big.Int) error {
	if from != (common.Address{}) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO domain.erc20_balances (token, holder, balance)
			VALUES ($1, $2, -$3)
			ON CONFLICT (token, holder) DO UPDATE
			SET balance = domain.erc20_balances.balance - $3
		`, token.Hex(), from.Hex(), amount.String()); err != nil {
			return fmt.Errorf("debit sender: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO domain.erc20_balances (token, holder, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (token, holder) DO UPDATE
		SET balance = domain.erc20_balances.balance + $3
	`, token.Hex(), to.Hex(), amount.String()); err != nil {
		return fmt.Errorf("credit recipient: %w", err)
	}
	return nil
}

// enqueueMint inserts a PENDING domain_outbox row for the Domain Executor,
// idempotent on command_key: replaying the same Transfer log (e.g. after
// a dispatcher ReplayRange) must not enqueue a second mint.
func enqueueMint(ctx context.Context, tx dispatcher.DBTX, token, recipient common.Address, amount *big.Int) error {
	payload, err := json.Marshal(mintPayload{
		Token:     token.Hex(),
		Recipient: recipient.Hex(),
		Amount:    amount.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal mint payload: %w", err)
	}

	commandKey := fmt.Sprintf("mint:%s:%s:%s", token.Hex(), recipient.Hex(), amount.String())
	_, err = tx.Exec(ctx, `
		INSERT INTO domain.domain_outbox (command_key, kind, payload)
		VALUES ($1, 'mint', $2)
		ON CONFLICT (command_key) DO NOTHING
	`, commandKey, payload)
	return err
}
