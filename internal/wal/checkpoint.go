package wal

import (
	"sync"

	"github.com/strata-db/strata/internal/logger"
)

// SnapshotTrigger decides when the engine should take a new disk
// snapshot based on bytes written to the WAL since the last one,
// bounding how much WAL a recovery ever has to replay.
type SnapshotTrigger struct {
	mu               sync.Mutex
	intervalBytes    uint64
	enabled          bool
	logger           *logger.Logger
	lastWatermark    uint64
	snapshotCount    int
	walSizeAtSnapshot uint64
}

// NewSnapshotTrigger builds a trigger that fires every intervalMB of
// WAL growth. enabled=false disables automatic triggering entirely
// (the caller may still snapshot manually).
func NewSnapshotTrigger(intervalMB uint64, enabled bool, log *logger.Logger) *SnapshotTrigger {
	return &SnapshotTrigger{
		intervalBytes: intervalMB * 1024 * 1024,
		enabled:       enabled,
		logger:        log,
	}
}

// ShouldSnapshot reports whether currentWALBytes has grown enough since
// the last recorded snapshot to warrant taking another one.
func (t *SnapshotTrigger) ShouldSnapshot(currentWALBytes uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled || t.intervalBytes == 0 {
		return false
	}
	if t.walSizeAtSnapshot == 0 {
		return currentWALBytes >= t.intervalBytes
	}
	return currentWALBytes-t.walSizeAtSnapshot >= t.intervalBytes
}

// RecordSnapshot records that a snapshot was taken at watermark,
// resetting the byte counter used by ShouldSnapshot.
func (t *SnapshotTrigger) RecordSnapshot(watermark uint64, walBytes uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastWatermark = watermark
	t.walSizeAtSnapshot = walBytes
	t.snapshotCount++

	t.logger.Debug("snapshot trigger recorded: watermark=%d wal_bytes=%d count=%d", watermark, walBytes, t.snapshotCount)
}

// LastWatermark returns the watermark of the most recently recorded
// snapshot.
func (t *SnapshotTrigger) LastWatermark() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastWatermark
}

// Reset clears trigger state, used after recovery re-establishes the
// watermark from the loaded snapshot.
func (t *SnapshotTrigger) Reset(watermark uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastWatermark = watermark
	t.walSizeAtSnapshot = 0
	t.snapshotCount = 0
}
