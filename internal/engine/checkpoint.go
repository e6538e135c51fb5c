package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/strata-db/strata/internal/compaction"
	"github.com/strata-db/strata/internal/metrics"
	"github.com/strata-db/strata/internal/recovery"
	"github.com/strata-db/strata/internal/scheduler"
	"github.com/strata-db/strata/internal/snapshot"
)

// Checkpoint takes a new disk snapshot of the store's current committed
// state, rotates the WAL so every record from this point on is
// unambiguously "after" the snapshot's watermark, and records the
// snapshot in MANIFEST. It is synchronous: callers that want it run in
// the background submit it through the scheduler themselves. The engine
// never calls Checkpoint on its own; onSegmentClosed only persists the
// active segment and submits compaction.
func (d *Database) Checkpoint() (uint64, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}

	snap := d.store.Acquire()
	entries := d.store.ScanAll(snap)

	section, err := recovery.BuildKVSection(entries, d.codec)
	if err != nil {
		return 0, err
	}

	d.manifestMu.Lock()
	nextID := d.manifest.SnapshotID + 1
	d.manifestMu.Unlock()

	header := snapshot.Header{
		SnapshotID: nextID,
		Watermark:  uint64(snap.Version),
		CreatedAt:  uint64(time.Now().Unix()),
		DatabaseID: d.manifest.DatabaseID,
		CodecID:    d.codec.ID(),
	}

	path := d.snapshotPath(nextID)
	if err := snapshot.Write(path, header, []snapshot.Section{section}); err != nil {
		return 0, err
	}

	if _, err := d.wal.Rotate(); err != nil {
		return 0, fmt.Errorf("engine: checkpoint wal rotate: %w", err)
	}

	d.manifestMu.Lock()
	err = d.manifest.SetSnapshotWatermark(nextID, uint64(snap.Version))
	d.manifestMu.Unlock()
	if err != nil {
		return 0, err
	}

	d.trigger.RecordSnapshot(uint64(snap.Version), d.wal.Counters().BytesWritten)
	metrics.SnapshotWatermark.Set(float64(snap.Version))

	d.activityMu.Lock()
	d.lastSnapshotAt = time.Now()
	d.activityMu.Unlock()

	_ = d.sched.Submit(scheduler.Low, func() {
		d.runCompaction()
	})

	return uint64(snap.Version), nil
}

func (d *Database) snapshotPath(snapshotID uint64) string {
	return filepath.Join(d.root, snapshotsDirName, snapshot.FileName(snapshotID))
}

// Compact runs WAL-only compaction against the current snapshot
// watermark, deleting closed segments fully reflected in the durable
// snapshot.
func (d *Database) Compact() (compaction.Stats, error) {
	if err := d.checkOpen(); err != nil {
		return compaction.Stats{}, err
	}
	return d.runCompaction(), nil
}

func (d *Database) runCompaction() compaction.Stats {
	d.manifestMu.Lock()
	watermark := d.manifest.SnapshotWatermark
	hasSnapshot := d.manifest.HasSnapshot()
	d.manifestMu.Unlock()

	stats, err := d.compactor.Run(watermark, hasSnapshot)
	d.activityMu.Lock()
	d.lastCompactionAt = time.Now()
	d.activityMu.Unlock()
	if err != nil {
		d.logger.Warn("compaction run failed: %v", err)
		return stats
	}
	if stats.SegmentsDeleted > 0 {
		metrics.CompactionSegmentsDeletedTotal.Add(float64(stats.SegmentsDeleted))
	}
	return stats
}
