package engine

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/strata-db/strata/internal/codec"
	strataerrors "github.com/strata-db/strata/internal/errors"
	"github.com/strata-db/strata/internal/keyspace"
	"github.com/strata-db/strata/internal/metrics"
	"github.com/strata-db/strata/internal/store"
	"github.com/strata-db/strata/internal/txn"
	"github.com/strata-db/strata/internal/wal"
)

func walRecordFor(t *txn.Transaction, ver store.Version, payload []byte) wal.Record {
	return wal.Record{
		CommitVersion: uint64(ver),
		BranchID:      t.BranchID,
		Timestamp:     uint64(time.Now().UnixMicro()),
		Writeset:      payload,
	}
}

// TxnContext is the caller-facing handle for one in-flight transaction:
// a thin wrapper around txn.Transaction that adds input validation
// against the database's configured limits and, on Commit, durably
// appends a WAL record before any write becomes visible in the store.
type TxnContext struct {
	db *Database
	t  *txn.Transaction
}

// Get reads a key through the transaction's own write buffer first,
// falling back to its snapshot view of the store.
func (tc *TxnContext) Get(k keyspace.Key) (keyspace.Value, bool, error) {
	return tc.t.Get(tc.db.store, k)
}

// Put buffers a write; it is not visible until Commit succeeds.
func (tc *TxnContext) Put(k keyspace.Key, v keyspace.Value) error {
	if err := tc.db.cfg.Limits.ValidateKey(k); err != nil {
		return err
	}
	if err := tc.db.cfg.Limits.ValidateValue(v); err != nil {
		return err
	}
	return tc.t.Put(k, v)
}

// Delete buffers a tombstone write.
func (tc *TxnContext) Delete(k keyspace.Key) error {
	if err := tc.db.cfg.Limits.ValidateKey(k); err != nil {
		return err
	}
	return tc.t.Delete(k)
}

// CompareAndSwap buffers a write guarded by a commit-time precondition
// on k's current chain-head version (0 meaning "must not exist").
func (tc *TxnContext) CompareAndSwap(k keyspace.Key, expectedVersion store.Version, newValue keyspace.Value) error {
	if err := tc.db.cfg.Limits.ValidateKey(k); err != nil {
		return err
	}
	if err := tc.db.cfg.Limits.ValidateValue(newValue); err != nil {
		return err
	}
	return tc.t.CompareAndSwap(k, expectedVersion, newValue)
}

// ScanPrefix returns every key/value pair visible to this transaction's
// snapshot under (branch, tag, prefix), ordered by key. It reads only
// the store's committed view - buffered writes in this same transaction
// are not reflected, matching the read-your-own-writes scope of Get but
// not of range reads, which primitives built on the core are expected
// to reconcile themselves if they need to.
func (tc *TxnContext) ScanPrefix(branch [16]byte, tag keyspace.TypeTag, prefix []byte) []store.ScanEntry {
	return tc.db.store.ScanPrefix(branch, tag, prefix, tc.t.Snapshot)
}

// Abort discards the transaction's buffered writes.
func (tc *TxnContext) Abort() error {
	err := tc.db.txns.Abort(tc.t)
	if err == nil {
		atomic.AddUint64(&tc.db.txnsAborted, 1)
	}
	return err
}

// Status returns the transaction's current lifecycle state.
func (tc *TxnContext) Status() txn.Status {
	return tc.t.GetStatus()
}

// Commit validates the transaction, and on success appends a WAL record
// carrying the assigned commit version before installing any write into
// the store. If the WAL append fails, the transaction aborts and no
// part of its writeset is ever visible, per §7.
func (tc *TxnContext) Commit() (store.Version, error) {
	start := time.Now()

	v, err := tc.db.txns.CommitWithHook(tc.t, func(ver store.Version, writes []store.Write) error {
		entries := make([]codec.Entry, len(writes))
		for i, w := range writes {
			entries[i] = codec.Entry{Key: w.Key, Value: w.Value}
		}
		payload, encErr := tc.db.codec.EncodeWriteset(entries)
		if encErr != nil {
			return strataerrors.Tag(strataerrors.ReasonWALIO, strataerrors.CategoryDurability, encErr)
		}

		rec := walRecordFor(tc.t, ver, payload)
		if appendErr := tc.db.wal.Append(rec); appendErr != nil {
			return strataerrors.Tag(strataerrors.ReasonWALIO, strataerrors.CategoryDurability, appendErr)
		}
		return nil
	})

	metrics.TxnCommitDuration.Observe(time.Since(start).Seconds())
	metrics.TxnCommitsTotal.WithLabelValues(commitOutcome(err)).Inc()
	if err != nil {
		metrics.RecordError(commitOutcome(err))
		atomic.AddUint64(&tc.db.txnsAborted, 1)
	} else {
		atomic.AddUint64(&tc.db.txnsCommitted, 1)
	}
	return v, err
}

func commitOutcome(err error) string {
	if err == nil {
		return "committed"
	}
	var conflict *txn.ErrConflict
	if errors.As(err, &conflict) {
		if conflict.CAS {
			return string(strataerrors.ReasonCASMismatch)
		}
		return string(strataerrors.ReasonConflict)
	}
	var tagged *strataerrors.TaggedError
	if errors.As(err, &tagged) {
		return string(tagged.Reason)
	}
	if errors.Is(err, txn.ErrClosed) {
		return string(strataerrors.ReasonInvalidState)
	}
	return "unknown"
}
