// Package wal implements the write-ahead log: segment files, record
// framing with CRC32 checksums, three durability modes, and segment
// rotation. A Writer owns exactly one database's active segment; a
// Reader replays closed and active segments for recovery.
package wal

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/strata-db/strata/internal/logger"
	"github.com/strata-db/strata/internal/metrics"
)

// Counters tracks the small observability record called out in §4.D.
type Counters struct {
	WALAppends   uint64
	SyncCalls    uint64
	BytesWritten uint64
	SyncNanos    uint64
}

// Writer is the single writer for one database's WAL. All append paths
// funnel through mu so record framing and offset bookkeeping stay
// consistent, matching the spec's "single writer per database" rule.
type Writer struct {
	mu sync.Mutex

	dir         string
	databaseID  uuid.UUID
	segmentSize uint64
	mode        Mode
	stdCfg      StandardConfig
	logger      *logger.Logger

	file          *os.File
	segmentNum    uint64
	segmentOffset uint64

	pendingSinceSync int
	lastSyncAt       time.Time

	onSegmentClosed func(segmentNum uint64, maxCommitVersion uint64)
	segmentMaxVer   uint64

	counters Counters

	closed   bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Config bundles the fields needed to open a Writer.
type Config struct {
	Dir             string
	DatabaseID      uuid.UUID
	SegmentSize     uint64 // 0 uses DefaultSegmentSize
	Mode            Mode
	Standard        StandardConfig
	Logger          *logger.Logger
	OnSegmentClosed func(segmentNum uint64, maxCommitVersion uint64)
}

// Open creates dir if needed and opens (or creates) the active segment,
// resuming from the highest existing segment number.
func Open(cfg Config) (*Writer, error) {
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}

	nums, err := ListSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:             cfg.Dir,
		databaseID:      cfg.DatabaseID,
		segmentSize:     cfg.SegmentSize,
		mode:            cfg.Mode,
		stdCfg:          cfg.Standard,
		logger:          cfg.Logger.With("wal"),
		onSegmentClosed: cfg.OnSegmentClosed,
		stopCh:          make(chan struct{}),
	}

	segNum := uint64(1)
	if len(nums) > 0 {
		segNum = nums[len(nums)-1]
	}
	if err := w.openSegment(segNum); err != nil {
		return nil, err
	}

	if w.mode == Standard {
		w.wg.Add(1)
		go w.fsyncLoop()
	}

	return w, nil
}

func (w *Writer) openSegment(segNum uint64) error {
	path := SegmentPath(w.dir, segNum)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return ErrFileOpen
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	if info.Size() == 0 {
		header := EncodeSegmentHeader(SegmentHeader{
			Version:      SegmentFormatVersion,
			SegmentNum:   segNum,
			DatabaseUUID: w.databaseID,
		})
		if _, err := f.Write(header); err != nil {
			f.Close()
			return ErrFileWrite
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return ErrFileSync
		}
		w.segmentOffset = uint64(len(header))
	} else {
		w.segmentOffset = uint64(info.Size())
	}

	w.file = f
	w.segmentNum = segNum
	w.segmentMaxVer = 0
	return nil
}

// Append encodes and writes a record, applying the writer's durability
// mode. It returns only an error; use ActiveSegment to learn which
// segment is being written.
func (w *Writer) Append(r Record) error {
	encoded, err := EncodeRecord(r)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrSegmentClosed
	}

	if w.segmentOffset+uint64(len(encoded)) > w.segmentSize && w.segmentOffset > SegmentHeaderSize {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	if w.mode == Cache {
		w.trackAppendLocked(r, len(encoded))
		return nil
	}

	if _, err := w.file.Write(encoded); err != nil {
		return ErrFileWrite
	}
	w.segmentOffset += uint64(len(encoded))
	w.trackAppendLocked(r, len(encoded))

	switch w.mode {
	case Always:
		return w.syncLocked()
	case Standard:
		w.pendingSinceSync++
		if w.pendingSinceSync >= w.stdCfg.BatchSize {
			return w.syncLocked()
		}
		return nil
	default:
		return ErrUnsupportedMode
	}
}

func (w *Writer) trackAppendLocked(r Record, n int) {
	checkCommitVersionMonotonic(w.segmentMaxVer, r.CommitVersion)
	atomic.AddUint64(&w.counters.WALAppends, 1)
	atomic.AddUint64(&w.counters.BytesWritten, uint64(n))
	metrics.WALAppendsTotal.Inc()
	metrics.WALBytesWrittenTotal.Add(float64(n))
	if r.CommitVersion > w.segmentMaxVer {
		w.segmentMaxVer = r.CommitVersion
	}
}

func (w *Writer) syncLocked() error {
	if w.file == nil {
		return nil
	}
	start := time.Now()
	if err := w.file.Sync(); err != nil {
		return ErrFileSync
	}
	elapsed := time.Since(start)
	atomic.AddUint64(&w.counters.SyncCalls, 1)
	atomic.AddUint64(&w.counters.SyncNanos, uint64(elapsed.Nanoseconds()))
	metrics.WALSyncDuration.Observe(elapsed.Seconds())
	w.pendingSinceSync = 0
	w.lastSyncAt = time.Now()
	return nil
}

// Sync forces a durability-mode-independent fsync of the active segment.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

// SyncIfOverdue performs Standard mode's timer-driven fsync: flush if
// the configured interval has elapsed since the last sync and there are
// unsynced bytes pending.
func (w *Writer) SyncIfOverdue() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != Standard || w.pendingSinceSync == 0 {
		return nil
	}
	if time.Since(w.lastSyncAt) < w.stdCfg.Interval {
		return nil
	}
	return w.syncLocked()
}

func (w *Writer) fsyncLoop() {
	defer w.wg.Done()
	interval := w.stdCfg.Interval
	if interval <= 0 {
		interval = DefaultStandardConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.SyncIfOverdue(); err != nil {
				w.logger.Warn("periodic fsync failed: %v", err)
			}
		}
	}
}

// rotateLocked closes the current segment (final fsync) and opens the
// next one. Caller must hold mu.
func (w *Writer) rotateLocked() error {
	closedNum := w.segmentNum
	maxVer := w.segmentMaxVer

	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			return ErrFileSync
		}
		if err := w.file.Close(); err != nil {
			return err
		}
	}

	if err := writeSegmentMeta(SegmentPath(w.dir, closedNum), maxVer); err != nil {
		w.logger.Warn("failed to write segment meta for %d: %v", closedNum, err)
	}
	w.logger.Info("rotated segment %d (%s written, max version %d)", closedNum, humanize.Bytes(w.segmentOffset), maxVer)

	if w.onSegmentClosed != nil {
		w.onSegmentClosed(closedNum, maxVer)
	}

	return w.openSegment(closedNum + 1)
}

// Rotate forces rotation regardless of size. The engine's Checkpoint
// calls it right after writing a snapshot, so the closed segment can be
// compacted once the snapshot's watermark is recorded.
func (w *Writer) Rotate() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateLocked(); err != nil {
		return 0, err
	}
	return w.segmentNum, nil
}

// ActiveSegment returns the current segment number.
func (w *Writer) ActiveSegment() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentNum
}

// Counters returns a snapshot of the writer's observability counters.
func (w *Writer) Counters() Counters {
	return Counters{
		WALAppends:   atomic.LoadUint64(&w.counters.WALAppends),
		SyncCalls:    atomic.LoadUint64(&w.counters.SyncCalls),
		BytesWritten: atomic.LoadUint64(&w.counters.BytesWritten),
		SyncNanos:    atomic.LoadUint64(&w.counters.SyncNanos),
	}
}

// Close performs a best-effort final fsync and closes the active
// segment. It does not delete or finalize a .meta sidecar - the active
// segment stays mutable until the next rotation.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.stopCh)

	if w.file == nil {
		return nil
	}
	_ = w.file.Sync()
	err := w.file.Close()
	w.file = nil
	return err
}
