package scanner

import (
	"encoding/hex"
	"encoding/json"

	"github.com/onchainflow/logindexer/internal/ingest"
)

// logEnvelope is the JSON shape stored as an IngestEvent's payload: every
// binary field hex-encoded so downstream consumers (the dispatcher's
// handlers, the status view) never need to re-derive them from the wire
// log.
type logEnvelope struct {
	Address          string   `json:"address"`
	BlockHash        string   `json:"block_hash"`
	BlockNumber      uint64   `json:"block_number"`
	Data             string   `json:"data"`
	LogIndex         uint64   `json:"log_index"`
	Topics           []string `json:"topics"`
	TransactionHash  string   `json:"transaction_hash"`
	TransactionIndex uint64   `json:"transaction_index"`
}

func logPayload(l ingest.Log) (json.RawMessage, error) {
	topics := make([]string, 0, len(l.Topics))
	for _, t := range l.Topics {
		topics = append(topics, t.Hex())
	}
	env := logEnvelope{
		Address:          l.Address.Hex(),
		BlockHash:        l.BlockHash.Hex(),
		BlockNumber:      l.BlockNumber,
		Data:             "0x" + hex.EncodeToString(l.Data),
		LogIndex:         l.LogIndex,
		Topics:           topics,
		TransactionHash:  l.TransactionHash.Hex(),
		TransactionIndex: l.TransactionIndex,
	}
	return json.Marshal(env)
}
