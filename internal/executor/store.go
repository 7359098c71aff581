// Package executor submits pending domain commands as on-chain
// transactions exactly once per command_key, following the teacher's
// prooffunder.Service Tick/loop split and eth.Relayer's WriteClient
// abstraction over how a transaction actually gets sent.
package executor

import (
	"context"
	"errors"

	"github.com/onchainflow/logindexer/internal/domainoutbox"
)

var ErrInvalidConfig = errors.New("executor: invalid config")

// Store owns the domain_outbox selection and the guarded settle update.
type Store interface {
	EnsureSchema(ctx context.Context) error

	// SelectPending returns up to limit commands with executed_at IS
	// NULL, ordered by command_key ASC.
	SelectPending(ctx context.Context, limit int) ([]domainoutbox.Command, error)

	// MarkPublished sets executed_at = now() and tx_hash = txHash for
	// commandKey, but only if executed_at is still NULL. It reports
	// whether this call was the one that made the change - false means
	// another executor already settled the row first (spec scenario 6).
	MarkPublished(ctx context.Context, commandKey string, txHash string) (bool, error)

	// MarkFailed records an execution attempt failure without touching
	// executed_at, so the row is retried on the next iteration.
	MarkFailed(ctx context.Context, commandKey string, errMsg string) error

	// PendingCount reports how many rows currently have executed_at IS
	// NULL, for the domain_outbox_unpublished gauge.
	PendingCount(ctx context.Context) (int, error)
}
