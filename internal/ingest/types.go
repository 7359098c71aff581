// Package ingest defines the entities and store contract for the ingest
// side of the pipeline: per-shard cursors, append-only IngestEvent rows,
// and their paired IngestOutbox rows. Types and the Store interface are
// modeled directly on the teacher's deposit package (types.go + store.go
// split, sentinel errors, Store as a narrow interface implemented by a
// postgres.Store and a MemoryStore).
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidConfig = errors.New("ingest: invalid config")
	ErrNotFound       = errors.New("ingest: not found")
)

// Log is the normalized shape of a chain log entry as returned by the
// ReadClient, after hex decoding. Field names mirror spec section 6
// ("Chain RPC (read)") exactly.
type Log struct {
	Address          common.Address
	BlockHash        common.Hash
	BlockNumber      uint64
	Data             []byte
	LogIndex         uint64
	Topics           []common.Hash
	TransactionHash  common.Hash
	TransactionIndex uint64
}

// EventID computes the canonical identity of a log:
// "<block_hash>:<block_number>:<tx_index>:<log_index>".
func (l Log) EventID() string {
	return fmt.Sprintf("%s:%d:%d:%d", l.BlockHash.Hex(), l.BlockNumber, l.TransactionIndex, l.LogIndex)
}

// Topic0 returns the first topic, or the zero hash if the log carries no
// topics (anonymous events).
func (l Log) Topic0() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

// Subscription narrows a log-range query to a single address and/or
// topic0. Either field may be the zero value to mean "any".
type Subscription struct {
	Address common.Address
	Topic0  common.Hash
}

func (s Subscription) hasAddress() bool { return s.Address != (common.Address{}) }
func (s Subscription) hasTopic0() bool  { return s.Topic0 != (common.Hash{}) }

// Filter is a single bounded log-range query built from a Subscription
// (or the unfiltered default when there are no subscriptions).
type Filter struct {
	Address   *common.Address
	Topic0    *common.Hash
	FromBlock uint64
	ToBlock   uint64
}

// BuildFilters constructs the filter set for one scanner iteration: a
// single unfiltered range query when there are no subscriptions,
// otherwise one filter per subscription, each bounded by [from, to].
func BuildFilters(subs []Subscription, from, to uint64) []Filter {
	if len(subs) == 0 {
		return []Filter{{FromBlock: from, ToBlock: to}}
	}
	out := make([]Filter, 0, len(subs))
	for _, s := range subs {
		f := Filter{FromBlock: from, ToBlock: to}
		if s.hasAddress() {
			addr := s.Address
			f.Address = &addr
		}
		if s.hasTopic0() {
			t := s.Topic0
			f.Topic0 = &t
		}
		out = append(out, f)
	}
	return out
}

// IngestEvent is the append-only record of a single ingested chain log.
type IngestEvent struct {
	EventID      string
	BlockNumber  uint64
	BlockHash    common.Hash
	Address      common.Address
	Topic0       common.Hash
	PartitionKey string
	Payload      json.RawMessage
	CreatedAt    time.Time
}

// FromLog builds the IngestEvent that will be persisted for a raw Log,
// given its already-computed partition key and a JSON-encodable payload
// (typically the log itself, re-encoded so downstream consumers never see
// the wire hex forms).
func FromLog(l Log, partitionKey string, payload json.RawMessage) IngestEvent {
	return IngestEvent{
		EventID:      l.EventID(),
		BlockNumber:  l.BlockNumber,
		BlockHash:    l.BlockHash,
		Address:      l.Address,
		Topic0:       l.Topic0(),
		PartitionKey: partitionKey,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
}

// OutboxMessage is the shape the Ingest Publisher consumes: an
// IngestEvent joined to its IngestOutbox row's publication state.
type OutboxMessage struct {
	EventID      string
	BlockNumber  uint64
	PartitionKey string
	Payload      json.RawMessage
	PublishedAt  *time.Time
}
