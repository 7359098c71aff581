package erc20projector

import (
	"context"
	"fmt"

	"github.com/onchainflow/logindexer/internal/pgshared"
)

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS domain;

CREATE TABLE IF NOT EXISTS domain.erc20_balances (
	token TEXT NOT NULL,
	holder TEXT NOT NULL,
	balance NUMERIC NOT NULL DEFAULT 0,
	PRIMARY KEY (token, holder)
);
`

// EnsureSchema creates the toy balances table this example projector
// writes to. It is independent of internal/executor/postgres's own
// EnsureSchema (which owns domain.domain_outbox and is run by
// cmd/domain-executor); cmd/dispatcher calls only this one.
func EnsureSchema(ctx context.Context, pool pgshared.Pool) error {
	if pool == nil {
		return fmt.Errorf("erc20projector: nil pool")
	}
	return pgshared.EnsureSchema(ctx, pool, "examples/erc20projector", schemaSQL)
}
