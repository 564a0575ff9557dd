package model

import "fmt"

// LogRecord is the normalized representation of a chain log. Raw records are
// what the cache persists between runs; the timestamp is resolved once at
// fetch time so cached entries never need a second block lookup.
type LogRecord struct {
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
	Timestamp   uint64   `json:"timestamp"`
}

// Key identifies a log uniquely within a chain for dedup on merge.
func (lr LogRecord) Key() string {
	return fmt.Sprintf("%s:%d", lr.TxHash, lr.LogIndex)
}
