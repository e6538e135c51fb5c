// Package types holds small cross-cutting value types shared between
// the engine and its callers that don't belong to any single component
// package (keyspace, store, txn, wal, ...).
package types

import "time"

// Stats is the point-in-time status snapshot returned by a database's
// status/introspection call: live key count, durability backlog, and
// recovery/compaction history. It mirrors the Prometheus gauges in
// internal/metrics without requiring a caller to scrape an HTTP
// endpoint just to check on one open database.
type Stats struct {
	KeysLive          uint64
	WALSizeBytes      uint64
	SnapshotWatermark uint64
	TxnsCommitted     uint64
	TxnsAborted       uint64
	LastCompactionAt  time.Time
	LastSnapshotAt    time.Time
}
