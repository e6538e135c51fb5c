// Package config holds the fixed-at-open configuration surface: once a
// database is opened every field here is immutable for the lifetime of
// that handle, matching §6's "any change requires reopen" rule.
package config

import (
	"github.com/strata-db/strata/internal/keyspace"
	"github.com/strata-db/strata/internal/wal"
)

// Config is the full set of knobs accepted by engine.Open.
type Config struct {
	// CodecID selects the storage codec for WAL records and snapshot
	// payloads (see internal/codec.Lookup). Defaults to "identity".
	CodecID string

	Durability DurabilityConfig
	WAL        WALConfig
	Limits     keyspace.Limits
	Background BackgroundConfig
	Snapshot   SnapshotConfig
}

// DurabilityConfig mirrors wal.Mode plus its Standard-mode tuning.
type DurabilityConfig struct {
	Mode     wal.Mode
	Standard wal.StandardConfig
}

// WALConfig controls segment sizing under the WAL/ subdirectory of the
// database root.
type WALConfig struct {
	SegmentSize uint64 // rotation threshold in bytes; 0 uses wal.DefaultSegmentSize
}

// BackgroundConfig sizes the scheduler (component J) that runs the
// engine's background compaction passes.
type BackgroundConfig struct {
	Workers       int
	QueueCapacity int
}

// SnapshotConfig parameterises the engine's wal.SnapshotTrigger. The
// engine records each Checkpoint in that trigger but never asks it
// whether to snapshot, so no snapshot is taken without an explicit
// Checkpoint call.
type SnapshotConfig struct {
	IntervalMB uint64
	AutoCreate bool
}

// Default returns the configuration used when a caller supplies none:
// Standard durability with a 5ms/64-record batch, a 64MB WAL segment,
// the identity codec, and a modest background worker pool.
func Default() Config {
	return Config{
		CodecID: "identity",
		Durability: DurabilityConfig{
			Mode:     wal.Standard,
			Standard: wal.DefaultStandardConfig(),
		},
		WAL: WALConfig{
			SegmentSize: wal.DefaultSegmentSize,
		},
		Limits: keyspace.DefaultLimits(),
		Background: BackgroundConfig{
			Workers:       4,
			QueueCapacity: 1024,
		},
		Snapshot: SnapshotConfig{
			IntervalMB: 64,
			AutoCreate: true,
		},
	}
}
