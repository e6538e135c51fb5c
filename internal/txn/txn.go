// Package txn implements the optimistic transaction manager: component C
// of the storage core. Transactions read from a snapshot taken at Begin,
// buffer writes locally, and are validated against the store's current
// state only at Commit, under a single global commit mutex. There is no
// locking during the body of a transaction - conflicts are only ever
// detected at commit time, and only one commit validates at a time.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/strata-db/strata/internal/keyspace"
	"github.com/strata-db/strata/internal/store"
)

// Status is a transaction's lifecycle state.
type Status int

const (
	StatusOpen Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// CAS records a compare-and-swap precondition: the key's current chain
// head must still be at ExpectedVersion (0 meaning "must not exist") at
// commit time, or the transaction aborts with ErrConflict. NewValue is
// the write applied when the precondition holds.
type CAS struct {
	Key             keyspace.Key
	ExpectedVersion store.Version
	NewValue        keyspace.Value
}

// Transaction is a single optimistic transaction: a snapshot, a read
// set, a buffered write/delete set, and a CAS set, all private to the
// goroutine driving it until Commit.
type Transaction struct {
	ID             uint64
	BranchID       uuid.UUID
	Snapshot       store.Snapshot
	status         Status
	readSet        map[string]store.Version // key -> version observed at read time
	readSetKeys    map[string]keyspace.Key
	writeSet       map[string]keyspace.Value
	writeSetKeys   map[string]keyspace.Key
	deleteSet      map[string]keyspace.Key
	casSet         []CAS
}

func newTransaction(id uint64, branch uuid.UUID, snap store.Snapshot) *Transaction {
	return &Transaction{
		ID:           id,
		BranchID:     branch,
		Snapshot:     snap,
		status:       StatusOpen,
		readSet:      make(map[string]store.Version),
		readSetKeys:  make(map[string]keyspace.Key),
		writeSet:     make(map[string]keyspace.Value),
		writeSetKeys: make(map[string]keyspace.Key),
		deleteSet:    make(map[string]keyspace.Key),
	}
}

// GetStatus returns the transaction's current lifecycle state.
func (t *Transaction) GetStatus() Status { return t.status }

// ErrConflict is returned by Commit when optimistic validation fails:
// a key in the read set, write set, or CAS set was modified by another
// transaction that committed after this one's snapshot was taken. CAS
// is set when the failure came from a CAS precondition specifically,
// so callers can surface the distinct cas_mismatch reason §7 requires
// rather than a generic conflict.
type ErrConflict struct {
	Key keyspace.Key
	CAS bool
}

func (e *ErrConflict) Error() string {
	if e.CAS {
		return fmt.Sprintf("txn: cas mismatch on key %x", e.Key.Encode())
	}
	return fmt.Sprintf("txn: write conflict on key %x", e.Key.Encode())
}

// ErrClosed is returned by any operation attempted on a transaction that
// has already committed or aborted.
var ErrClosed = fmt.Errorf("txn: transaction is no longer open")

// Put buffers a write; it is not visible to the store or to other
// transactions until Commit succeeds.
func (t *Transaction) Put(k keyspace.Key, v keyspace.Value) error {
	if t.status != StatusOpen {
		return ErrClosed
	}
	enc := k.EncodeString()
	t.writeSet[enc] = v
	t.writeSetKeys[enc] = k
	delete(t.deleteSet, enc)
	return nil
}

// Delete buffers a tombstone write.
func (t *Transaction) Delete(k keyspace.Key) error {
	if t.status != StatusOpen {
		return ErrClosed
	}
	enc := k.EncodeString()
	t.deleteSet[enc] = k
	delete(t.writeSet, enc)
	delete(t.writeSetKeys, enc)
	return nil
}

// CompareAndSwap adds a commit-time precondition: k's chain head must
// still be at expectedVersion (0 for "must not exist") when the
// transaction commits, and installs newValue as the write for k when it
// holds. It implicitly buffers the write the way Put does.
func (t *Transaction) CompareAndSwap(k keyspace.Key, expectedVersion store.Version, newValue keyspace.Value) error {
	if t.status != StatusOpen {
		return ErrClosed
	}
	t.casSet = append(t.casSet, CAS{Key: k, ExpectedVersion: expectedVersion, NewValue: newValue})
	enc := k.EncodeString()
	t.writeSet[enc] = newValue
	t.writeSetKeys[enc] = k
	delete(t.deleteSet, enc)
	return nil
}

// Get reads through the transaction's own write/delete buffer first,
// then falls back to the snapshot view of the store, recording the
// observed version in the read set for commit-time validation.
func (t *Transaction) Get(s *store.ShardedStore, k keyspace.Key) (keyspace.Value, bool, error) {
	if t.status != StatusOpen {
		return keyspace.Value{}, false, ErrClosed
	}
	enc := k.EncodeString()
	if v, ok := t.writeSet[enc]; ok {
		return v, true, nil
	}
	if _, ok := t.deleteSet[enc]; ok {
		return keyspace.Value{}, false, nil
	}

	v, ok := s.Get(k, t.Snapshot)
	t.recordRead(s, k)
	return v, ok, nil
}

func (t *Transaction) recordRead(s *store.ShardedStore, k keyspace.Key) {
	enc := k.EncodeString()
	if _, already := t.readSet[enc]; already {
		return
	}
	t.readSet[enc] = s.NewestVersion(k, t.Snapshot)
	t.readSetKeys[enc] = k
}

// Manager drives transaction lifecycle and OCC validation. commitMu
// serializes the validate+install step across all transactions so
// commit is linearizable: at most one transaction is deciding whether it
// conflicts at any instant, and a successful commit's writes become
// visible atomically before the next commit begins validating.
type Manager struct {
	nextTxnID uint64
	store     *store.ShardedStore
	commitMu  sync.Mutex
}

// NewManager constructs a transaction manager bound to a store.
func NewManager(s *store.ShardedStore) *Manager {
	return &Manager{store: s}
}

// Begin starts a new transaction with a fresh snapshot of the store.
func (m *Manager) Begin(branch uuid.UUID) *Transaction {
	id := atomic.AddUint64(&m.nextTxnID, 1)
	snap := m.store.Acquire()
	return newTransaction(id, branch, snap)
}

// Abort discards a transaction's buffered writes without touching the
// store.
func (m *Manager) Abort(t *Transaction) error {
	if t.status != StatusOpen {
		return ErrClosed
	}
	t.status = StatusAborted
	return nil
}

// Commit validates the transaction's read set, write set, and CAS set
// against the store's current state and, if validation passes, installs
// all buffered writes as a single new version. Validation and install
// happen under commitMu so no other transaction's commit can interleave.
//
// Validation rule: for every key the transaction read or intends to
// write or delete, other than a CAS key, the store's current newest
// version for that key must be no newer than the version observed in
// the read set (or, for write/delete-only keys with no prior read, no
// newer than the transaction's snapshot version). A CAS key is checked
// only by its own rule: the store's current newest version for it must
// equal the entry's ExpectedVersion (0 meaning the key has no record).
func (m *Manager) Commit(t *Transaction) (store.Version, error) {
	return m.commit(t, nil)
}

// CommitWithHook runs the same validate-then-install sequence as
// Commit, but calls beforeInstall (with the version InstallAt will use
// and the write batch) after validation succeeds and before any write
// becomes visible. The engine uses this to append the WAL record
// first: if beforeInstall returns an error (a durability failure), the
// transaction aborts and the store is never mutated, matching §7's
// "failed commit guarantees no part of the writeset is visible" rule.
// beforeInstall runs under commitMu, so the WAL append order always
// matches commit order.
func (m *Manager) CommitWithHook(t *Transaction, beforeInstall func(store.Version, []store.Write) error) (store.Version, error) {
	return m.commit(t, beforeInstall)
}

func (m *Manager) commit(t *Transaction, beforeInstall func(store.Version, []store.Write) error) (store.Version, error) {
	if t.status != StatusOpen {
		return 0, ErrClosed
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	current := m.store.Acquire()

	if err := m.validate(t, current); err != nil {
		t.status = StatusAborted
		return 0, err
	}

	writes := t.buildWrites()

	// A transaction with nothing to write or delete is read-only: §4.C
	// says it skips steps 4-7 (WAL append, version assignment, install)
	// entirely and always succeeds, so it neither allocates a commit
	// version nor touches the store or the WAL.
	if len(writes) == 0 {
		t.status = StatusCommitted
		return t.Snapshot.Version, nil
	}

	if beforeInstall == nil {
		v := m.store.ApplyBatch(writes)
		t.status = StatusCommitted
		return v, nil
	}

	v := m.store.ReserveVersion()
	if err := beforeInstall(v, writes); err != nil {
		t.status = StatusAborted
		return 0, err
	}
	m.store.InstallAt(writes, v)
	t.status = StatusCommitted
	return v, nil
}

func (m *Manager) validate(t *Transaction, current store.Snapshot) error {
	// CAS keys own their own precondition check below; excluding them
	// here keeps a CAS loser reporting cas_mismatch instead of being
	// caught first by the generic conflict check on its write-set entry.
	casKeys := make(map[string]struct{}, len(t.casSet))
	for _, cas := range t.casSet {
		casKeys[cas.Key.EncodeString()] = struct{}{}
	}

	// Every key the transaction observed (via Get) or intends to mutate
	// must still be at the version this transaction expects; otherwise
	// another committed transaction changed something this one depended
	// on, and it must abort rather than commit an inconsistent result.
	touched := make(map[string]keyspace.Key, len(t.readSetKeys)+len(t.writeSetKeys)+len(t.deleteSet))
	for enc, k := range t.readSetKeys {
		if _, isCAS := casKeys[enc]; isCAS {
			continue
		}
		touched[enc] = k
	}
	for enc, k := range t.writeSetKeys {
		if _, isCAS := casKeys[enc]; isCAS {
			continue
		}
		touched[enc] = k
	}
	for enc, k := range t.deleteSet {
		if _, isCAS := casKeys[enc]; isCAS {
			continue
		}
		touched[enc] = k
	}

	ceiling := t.Snapshot.Version
	for enc, k := range touched {
		readVersion, hadRead := t.readSet[enc]
		bound := ceiling
		if hadRead {
			bound = readVersion
		}
		if newestVersion(m.store, k, current) > bound {
			return &ErrConflict{Key: k}
		}
	}

	// expected_version == 0 means "key must not exist": the chain head
	// version for an absent key is 0 (NewestVersion's zero value), so the
	// comparison below covers both cases uniformly.
	for _, cas := range t.casSet {
		if newestVersion(m.store, cas.Key, current) != cas.ExpectedVersion {
			return &ErrConflict{Key: cas.Key, CAS: true}
		}
	}
	return nil
}

// newestVersion returns the version of the newest record visible as of
// `current` for k, or 0 if the key has never been written.
func newestVersion(s *store.ShardedStore, k keyspace.Key, current store.Snapshot) store.Version {
	return s.NewestVersion(k, current)
}

func (t *Transaction) buildWrites() []store.Write {
	writes := make([]store.Write, 0, len(t.writeSet)+len(t.deleteSet))
	for enc, v := range t.writeSet {
		k := t.writeSetKeys[enc]
		val := v
		writes = append(writes, store.Write{Key: k, Value: &val})
	}
	for _, k := range t.deleteSet {
		writes = append(writes, store.Write{Key: k, Value: nil})
	}
	return writes
}
