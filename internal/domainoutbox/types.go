// Package domainoutbox defines the entities a Dispatcher handler enqueues
// when it wants the Domain Executor to take an external action (submit a
// transaction, call a downstream API). It mirrors internal/inbox in being
// types-only: internal/executor owns the select-claim-execute-settle
// transaction, the same split internal/dispatcher uses for infra.inbox.
package domainoutbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig = errors.New("domainoutbox: invalid config")
	ErrNotFound      = errors.New("domainoutbox: not found")
)

// Status is the lifecycle of one domain_outbox command.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Command is one row enqueued by a handler for the Domain Executor to
// carry out. CommandKey is the caller-supplied idempotency key (spec
// scenario 6: two handlers racing on the same command_key must produce
// exactly one execution).
type Command struct {
	ID         int64
	CommandKey string
	Kind       string
	Payload    json.RawMessage
	Status     Status
	Attempts   int
	LastError  string
	TxHash     string
	CreatedAt  time.Time
	ExecutedAt *time.Time
}

// MaxErrorLen bounds the LastError text persisted per execution attempt.
const MaxErrorLen = 500
