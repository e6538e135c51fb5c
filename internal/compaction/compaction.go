// Package compaction implements WAL-only compaction: once a snapshot's
// watermark is durable, closed WAL segments entirely below it carry no
// information recovery still needs, so they are deleted outright. There
// is no document-level rewrite pass - the store's own version chains
// are pruned separately by the store's PruneBelow.
package compaction

import (
	"errors"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/strata-db/strata/internal/logger"
	"github.com/strata-db/strata/internal/wal"
)

// ErrNoSnapshot is returned when compaction is requested before any
// snapshot has been taken; there is no watermark to compact against.
var ErrNoSnapshot = errors.New("compaction: no snapshot exists")

// Stats summarizes one compaction pass.
type Stats struct {
	SegmentsConsidered int
	SegmentsDeleted    int
	SegmentsKept       int
	SegmentsFailed     int
}

// Compactor deletes closed WAL segments whose entire contents are
// already reflected in the most recent durable snapshot.
type Compactor struct {
	walDir string
	logger *logger.Logger
}

// New builds a Compactor over the WAL directory walDir.
func New(walDir string, log *logger.Logger) *Compactor {
	if log == nil {
		log = logger.Default()
	}
	return &Compactor{walDir: walDir, logger: log.With("compaction")}
}

// Run deletes every closed segment (i.e. not the active one) whose
// maximum commit_version is at or below watermark. hasSnapshot must be
// true or ErrNoSnapshot is returned and nothing is touched. Segment
// deletion failures are logged and counted, never returned as a hard
// error - per §4.I compaction failures are non-fatal and retried on the
// next pass.
func (c *Compactor) Run(watermark uint64, hasSnapshot bool) (Stats, error) {
	var stats Stats

	if !hasSnapshot {
		return stats, ErrNoSnapshot
	}

	nums, err := wal.ListSegments(c.walDir)
	if err != nil {
		return stats, err
	}
	if len(nums) == 0 {
		return stats, nil
	}

	var bytesFreed uint64

	// The active segment is whichever one sorts last; it is never a
	// candidate for deletion even if its contents happen to be fully
	// below watermark, since the writer may still be appending to it.
	activeSegment := nums[len(nums)-1]

	for _, n := range nums {
		if n == activeSegment {
			continue
		}
		stats.SegmentsConsidered++

		maxVer, ok := c.segmentMaxVersion(n)
		if !ok {
			c.logger.Warn("compaction: could not determine max version for segment %d, keeping it", n)
			stats.SegmentsKept++
			continue
		}

		if maxVer > watermark {
			stats.SegmentsKept++
			continue
		}

		size := segmentSize(c.walDir, n)
		if err := c.deleteSegment(n); err != nil {
			c.logger.Warn("compaction: failed to delete segment %d: %v", n, err)
			stats.SegmentsFailed++
			continue
		}
		bytesFreed += size
		stats.SegmentsDeleted++
	}

	if stats.SegmentsDeleted > 0 {
		c.logger.Info("compaction freed %s across %d segments", humanize.Bytes(bytesFreed), stats.SegmentsDeleted)
	}

	return stats, nil
}

func segmentSize(walDir string, segNum uint64) uint64 {
	info, err := os.Stat(wal.SegmentPath(walDir, segNum))
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

// segmentMaxVersion prefers the `.meta` sidecar; falling back to a full
// segment scan when it is absent or unreadable (e.g. the writer
// crashed before writing it).
func (c *Compactor) segmentMaxVersion(segNum uint64) (uint64, bool) {
	path := wal.SegmentPath(c.walDir, segNum)
	if maxVer, ok := wal.ReadSegmentMeta(path); ok {
		return maxVer, true
	}

	return wal.ScanSegmentMaxVersion(c.walDir, segNum)
}

func (c *Compactor) deleteSegment(segNum uint64) error {
	path := wal.SegmentPath(c.walDir, segNum)

	// Rename-before-remove avoids a half-deleted file being picked up
	// by a concurrent ListSegments call mid-unlink.
	tmp := path + ".deleting"
	if err := os.Rename(path, tmp); err != nil {
		return err
	}
	if err := os.Remove(tmp); err != nil {
		return err
	}
	_ = os.Remove(wal.MetaPath(path))
	return nil
}
