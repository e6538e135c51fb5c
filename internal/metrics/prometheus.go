// Package metrics exposes the engine's Prometheus metrics. It follows
// the sibling bun-kms service's pattern: package-level collectors
// registered via promauto against the default registry, so callers
// just increment/observe without threading a registry handle around.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TxnCommitsTotal counts commit attempts by outcome: "committed",
	// "conflict", "cas_mismatch", "wal_io".
	TxnCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_txn_commits_total",
			Help: "Total number of transaction commit attempts by outcome",
		},
		[]string{"outcome"},
	)

	// TxnCommitDuration is the latency of the commit-time validation
	// and install path, excluding the transaction's own read/buffer time.
	TxnCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_txn_commit_duration_seconds",
			Help:    "Commit path latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WALAppendsTotal counts WAL record appends.
	WALAppendsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_wal_appends_total",
			Help: "Total number of WAL records appended",
		},
	)

	// WALBytesWrittenTotal counts raw bytes written to WAL segment files.
	WALBytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_wal_bytes_written_total",
			Help: "Total bytes written to WAL segment files",
		},
	)

	// WALSyncDuration is the latency of a single fsync call.
	WALSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strata_wal_sync_duration_seconds",
			Help:    "WAL fsync call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RecoveryRecordsTotal counts replayed WAL records by outcome:
	// "applied", "skipped_watermark", "skipped_corrupted".
	RecoveryRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_recovery_records_total",
			Help: "Total number of WAL records seen during recovery replay, by outcome",
		},
		[]string{"outcome"},
	)

	// CompactionSegmentsDeletedTotal counts WAL segments removed by
	// watermark-based compaction.
	CompactionSegmentsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_compaction_segments_deleted_total",
			Help: "Total number of WAL segments deleted by compaction",
		},
	)

	// SchedulerQueueDepth reports the current pending task count per
	// priority lane ("high", "normal", "low").
	SchedulerQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_scheduler_queue_depth",
			Help: "Current number of queued background tasks by priority lane",
		},
		[]string{"priority"},
	)

	// SchedulerTasksDroppedTotal counts Submit calls rejected with
	// ErrBackpressure.
	SchedulerTasksDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_scheduler_tasks_dropped_total",
			Help: "Total number of background tasks rejected due to a full queue",
		},
	)

	// ErrorsTotal counts errors surfaced to callers, tagged by the §7
	// stable reason code.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_errors_total",
			Help: "Total number of errors surfaced to callers, by reason code",
		},
		[]string{"reason"},
	)

	// StoreKeysLive is the number of live (non-tombstoned,
	// visible-to-newest-snapshot) keys in the store. The engine sets it
	// once from the recovered store at Open; commits do not update it.
	StoreKeysLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_store_keys_live",
			Help: "Current number of live keys in the sharded store",
		},
	)

	// SnapshotWatermark is the commit version recorded in the most
	// recent snapshot's MANIFEST entry.
	SnapshotWatermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strata_snapshot_watermark",
			Help: "Commit version of the most recent snapshot",
		},
	)
)

// RecordError increments ErrorsTotal for the given reason code. Takes a
// plain string rather than errors.Reason so this package does not need
// to import internal/errors just for one type.
func RecordError(reason string) {
	ErrorsTotal.WithLabelValues(reason).Inc()
}
