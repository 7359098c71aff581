// Package inbox defines the entities shared by the Dispatcher's handler
// claim/settle cycle. It is deliberately types-only: the transactional
// select-claim-handle-settle sequence spans the infra.ingest_events,
// infra.ingest_outbox, and infra.inbox tables at once, so it is owned by
// internal/dispatcher rather than split across a separate Store here -
// mirroring how the teacher keeps deposit.State and deposit.Job as plain
// types while deposit.Store (and its postgres implementation) owns the
// multi-table transactions that move a Job between states.
package inbox

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig  = errors.New("inbox: invalid config")
	ErrAlreadyClaimed = errors.New("inbox: already claimed")
)

// Status is the lifecycle of one (event_id, handler_kind) claim.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusAck
	StatusFail
	StatusDLQ
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAck:
		return "ack"
	case StatusFail:
		return "fail"
	case StatusDLQ:
		return "dlq"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Entry is one claimed row of the inbox table: a single handler's attempt
// to process a single event, independent of every other handler's attempt
// at the same event.
type Entry struct {
	EventID     string
	HandlerKind string
	Status      Status
	Attempts    int
	LastError   string
	ClaimedAt   *time.Time
}

// MaxErrorLen bounds the LastError text persisted per attempt. Handler
// errors are truncated to this many runes before being stored, so a
// misbehaving handler cannot blow up the inbox row size.
const MaxErrorLen = 500
