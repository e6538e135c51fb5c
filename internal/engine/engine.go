// Package engine wires components A through J into the single
// programmatic surface a caller opens and drives: Database and the
// transactions it hands out. The lower packages call one another where
// their own work needs it (txn drives the store, recovery reads the
// MANIFEST, snapshots and WAL into a store, compaction reads WAL
// segments), but engine is the only thing that holds all of them at
// once and is responsible for keeping them consistent with each other.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/strata-db/strata/internal/codec"
	"github.com/strata-db/strata/internal/compaction"
	"github.com/strata-db/strata/internal/config"
	strataerrors "github.com/strata-db/strata/internal/errors"
	"github.com/strata-db/strata/internal/keyspace"
	"github.com/strata-db/strata/internal/logger"
	"github.com/strata-db/strata/internal/manifest"
	"github.com/strata-db/strata/internal/metrics"
	"github.com/strata-db/strata/internal/recovery"
	"github.com/strata-db/strata/internal/scheduler"
	"github.com/strata-db/strata/internal/store"
	"github.com/strata-db/strata/internal/txn"
	"github.com/strata-db/strata/internal/types"
	"github.com/strata-db/strata/internal/wal"
)

const (
	walDirName       = "WAL"
	snapshotsDirName = "SNAPSHOTS"
)

// Database is one open storage engine instance, rooted at a single
// directory on disk. All of its exported methods are safe for
// concurrent use by multiple goroutines.
type Database struct {
	root   string
	cfg    config.Config
	codec  codec.Codec
	logger *logger.Logger

	store     *store.ShardedStore
	txns      *txn.Manager
	wal       *wal.Writer
	sched     *scheduler.Scheduler
	compactor *compaction.Compactor
	trigger   *wal.SnapshotTrigger

	manifestMu sync.Mutex
	manifest   *manifest.Manifest

	txnsCommitted uint64
	txnsAborted   uint64

	activityMu       sync.Mutex
	lastSnapshotAt   time.Time
	lastCompactionAt time.Time

	closeOnce sync.Once
	closed    bool
	closedMu  sync.RWMutex
}

// Stats summarizes counters a caller can poll for observability,
// mirroring the fields promoted to Prometheus gauges.
type Stats struct {
	KeysLive          uint64
	WALCounters       wal.Counters
	SnapshotWatermark uint64
	CurrentVersion    uint64
}

// Open opens (creating if absent) the database rooted at dir. An empty
// cfg.CodecID is treated as "use config.Default()'s codec"; callers that
// want full control should pass config.Default() and override fields.
func Open(dir string, cfg config.Config) (*Database, error) {
	if cfg.CodecID == "" {
		cfg.CodecID = config.Default().CodecID
	}
	c, ok := codec.Lookup(cfg.CodecID)
	if !ok {
		return nil, strataerrors.Tag(strataerrors.ReasonCodecMismatch, strataerrors.CategoryConfiguration,
			fmt.Errorf("engine: unknown codec id %q", cfg.CodecID))
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	log := logger.Default().With("engine")
	st := store.New(0)

	rc := recovery.New(dir, c, log)
	m, stats, err := rc.Open(st)
	if err != nil {
		return nil, strataerrors.Tag(strataerrors.ReasonInvalidState, strataerrors.CategoryCorruption, err)
	}
	log.Info("recovery complete: segments=%d records_applied=%d records_skipped=%d corrupted=%d from_snapshot=%v final_version=%d",
		stats.SegmentsRead, stats.RecordsApplied, stats.RecordsSkipped, stats.RecordsSkippedCorrupted, stats.FromSnapshot, stats.FinalVersion)

	db := &Database{
		root:   dir,
		cfg:    cfg,
		codec:  c,
		logger: log,
		store:  st,
		manifest: m,
	}

	walDir := filepath.Join(dir, walDirName)
	w, err := wal.Open(wal.Config{
		Dir:             walDir,
		DatabaseID:      m.DatabaseID,
		SegmentSize:     cfg.WAL.SegmentSize,
		Mode:            cfg.Durability.Mode,
		Standard:        cfg.Durability.Standard,
		Logger:          log,
		OnSegmentClosed: db.onSegmentClosed,
	})
	if err != nil {
		return nil, strataerrors.Tag(strataerrors.ReasonWALIO, strataerrors.CategoryDurability, err)
	}
	db.wal = w

	db.txns = txn.NewManager(st)
	db.compactor = compaction.New(walDir, log)
	db.trigger = wal.NewSnapshotTrigger(cfg.Snapshot.IntervalMB, cfg.Snapshot.AutoCreate, log)
	db.trigger.Reset(m.SnapshotWatermark)

	sched, err := scheduler.New(scheduler.Config{
		Workers:       cfg.Background.Workers,
		QueueCapacity: cfg.Background.QueueCapacity,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	sched.Start()
	db.sched = sched

	metrics.StoreKeysLive.Set(float64(len(st.ScanAll(st.Acquire()))))
	metrics.SnapshotWatermark.Set(float64(m.SnapshotWatermark))

	return db, nil
}

func (d *Database) onSegmentClosed(closedSegment uint64, maxCommitVersion uint64) {
	d.manifestMu.Lock()
	defer d.manifestMu.Unlock()
	if err := d.manifest.SetActiveSegment(closedSegment + 1); err != nil {
		d.logger.Warn("failed to persist active segment after rotation: %v", err)
	}

	// A closed segment that is already fully below the snapshot
	// watermark is eligible for compaction right away; submit it as a
	// Low-priority background task rather than blocking the writer.
	if d.manifest.HasSnapshot() {
		err := d.sched.Submit(scheduler.Low, func() {
			d.runCompaction()
		})
		if err != nil {
			d.logger.Debug("compaction submission skipped: %v", err)
		}
	}
	_ = maxCommitVersion
}

// ErrClosed is returned by any Database or TxnContext method called
// after Close.
var ErrClosed = strataerrors.Tag(strataerrors.ReasonInvalidState, strataerrors.CategoryTransactional, fmt.Errorf("database is closed"))

func (d *Database) checkOpen() error {
	d.closedMu.RLock()
	defer d.closedMu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// BeginTransaction starts a new optimistic transaction scoped to branch.
// branch must not be the reserved all-zero branch index id; ordinary
// traffic has no business reading or writing that namespace directly.
func (d *Database) BeginTransaction(branch uuid.UUID) (*TxnContext, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if branch == keyspace.GlobalBranchID {
		return nil, strataerrors.ErrReservedNamespace
	}
	return &TxnContext{db: d, t: d.txns.Begin(branch)}, nil
}

// Stats returns a point-in-time snapshot of engine counters.
func (d *Database) Stats() Stats {
	snap := d.store.Acquire()
	d.manifestMu.Lock()
	watermark := d.manifest.SnapshotWatermark
	d.manifestMu.Unlock()
	return Stats{
		KeysLive:          uint64(len(d.store.ScanAll(snap))),
		WALCounters:       d.wal.Counters(),
		SnapshotWatermark: watermark,
		CurrentVersion:    uint64(snap.Version),
	}
}

// Status returns the cross-cutting view of this database's health that
// a caller polling for introspection cares about, independent of the
// Prometheus scrape path: live key count, durability backlog, commit
// and abort totals, and the last time a snapshot or compaction ran.
func (d *Database) Status() types.Stats {
	snap := d.store.Acquire()
	d.manifestMu.Lock()
	watermark := d.manifest.SnapshotWatermark
	d.manifestMu.Unlock()
	d.activityMu.Lock()
	lastSnapshot, lastCompaction := d.lastSnapshotAt, d.lastCompactionAt
	d.activityMu.Unlock()

	return types.Stats{
		KeysLive:          uint64(len(d.store.ScanAll(snap))),
		WALSizeBytes:      d.wal.Counters().BytesWritten,
		SnapshotWatermark: watermark,
		TxnsCommitted:     atomic.LoadUint64(&d.txnsCommitted),
		TxnsAborted:       atomic.LoadUint64(&d.txnsAborted),
		LastSnapshotAt:    lastSnapshot,
		LastCompactionAt:  lastCompaction,
	}
}

// Close drains background work and closes the WAL writer. It is safe to
// call more than once.
func (d *Database) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.closedMu.Lock()
		d.closed = true
		d.closedMu.Unlock()

		if d.sched != nil {
			d.sched.Shutdown()
		}
		if d.wal != nil {
			err = d.wal.Close()
		}
	})
	return err
}

// dbRootPath exposes the root for tests that want to inspect on-disk
// layout directly.
func (d *Database) dbRootPath() string { return d.root }
