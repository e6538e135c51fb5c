// Package store implements the sharded, in-memory MVCC keyspace the
// transaction manager and recovery coordinator build on top of: version
// chains keyed by the total key order, O(1) snapshot acquisition, and
// per-shard write serialization so unrelated keys never contend.
//
// A shard owns a subset of the keyspace; readers never block writers and
// writers on different shards never block each other. The store itself
// does not know about transactions - it exposes a version-stamped
// key/value surface that internal/txn drives under its own commit
// discipline.
package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/strata-db/strata/internal/keyspace"
)

// DefaultShardCount is the number of shards the keyspace is hashed across
// when New is given a non-positive count. A store's shard count is fixed
// at construction and does not change for its lifetime.
const DefaultShardCount = 64

// headCacheSize bounds the per-shard LRU of recently-touched chain
// heads. It is purely a read-path accelerator for hot keys; chains is
// always the source of truth, and every write updates the cache entry
// in the same critical section that updates chains, so a reader can
// never observe a head older than what chains holds.
const headCacheSize = 4096

// Version stamps a write with the commit sequence number that produced
// it. Version 0 is never assigned to a committed write; it is reserved
// to mean "no version" in snapshot comparisons.
type Version uint64

// Record is one entry in a key's version chain: a value (nil Value
// pointer means a tombstone) stamped with the version that created it.
type Record struct {
	Version Version
	Value   *keyspace.Value
	Next    *Record
}

// IsTombstone reports whether this record represents a delete.
func (r *Record) IsTombstone() bool {
	return r.Value == nil
}

type shard struct {
	mu     sync.RWMutex
	chains map[string]*Record

	// heads caches the chain head most recently installed or read for a
	// key, saving the map lookup into chains on repeat reads of hot
	// keys. It is never consulted instead of chains for anything that
	// must observe a write that hasn't landed yet - every write path
	// refreshes the cache entry under the same lock that updates
	// chains, so the two are never observably inconsistent.
	heads *lru.Cache[string, *Record]
}

func newShard() *shard {
	heads, err := lru.New[string, *Record](headCacheSize)
	if err != nil {
		// Only returned for a non-positive size, which headCacheSize
		// never is.
		panic(err)
	}
	return &shard{chains: make(map[string]*Record), heads: heads}
}

// ShardedStore is the sharded MVCC store: component B of the storage
// core. Each key hashes to exactly one shard for its lifetime; shard
// lookup itself takes no lock, only the per-shard chain map does.
type ShardedStore struct {
	shards     []*shard
	shardCount uint32

	// versionMu serializes version-chain mutation across the whole
	// store; it is held only for the duration of an ApplyBatch/Put/
	// Delete call, not across a transaction's lifetime, so it is not a
	// commit lock (internal/txn owns that). It exists because a single
	// commit can touch several shards and the store must install all of
	// a batch's records atomically from a reader's point of view.
	versionMu sync.Mutex

	versionCounter uint64
}

// New constructs a ShardedStore with shardCount shards (rounded up to a
// power of two for cheap masking); shardCount <= 0 uses DefaultShardCount.
func New(shardCount int) *ShardedStore {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	n := nextPowerOfTwo(shardCount)
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = newShard()
	}
	return &ShardedStore{shards: shards, shardCount: uint32(n)}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (s *ShardedStore) shardFor(k keyspace.Key) *shard {
	h := fnv1a(k.Encode())
	return s.shards[h&(s.shardCount-1)]
}

func fnv1a(b []byte) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for _, c := range b {
		h ^= uint32(c)
		h *= prime
	}
	return h
}

// CurrentVersion returns the highest version number installed so far.
func (s *ShardedStore) CurrentVersion() Version {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	return Version(s.versionCounter)
}

// Snapshot is an O(1)-acquired read view: just the version counter at
// the moment of acquisition. No chain is scanned to build it.
type Snapshot struct {
	Version Version
}

// Acquire captures the current version as a read snapshot. It never
// blocks on writers and never scans the keyspace.
func (s *ShardedStore) Acquire() Snapshot {
	return Snapshot{Version: s.CurrentVersion()}
}

// Get returns the newest record visible at or below snap.Version,
// walking the key's version chain newest-first. ok is false if no
// visible record exists (including the case where the newest visible
// record is a tombstone).
func (s *ShardedStore) Get(k keyspace.Key, snap Snapshot) (keyspace.Value, bool) {
	sh := s.shardFor(k)
	enc := k.EncodeString()

	sh.mu.RLock()
	rec, cached := sh.heads.Get(enc)
	if !cached {
		rec = sh.chains[enc]
		sh.heads.Add(enc, rec)
	}
	sh.mu.RUnlock()

	for rec != nil {
		if rec.Version <= snap.Version {
			if rec.IsTombstone() {
				return keyspace.Value{}, false
			}
			return *rec.Value, true
		}
		rec = rec.Next
	}
	return keyspace.Value{}, false
}

// Write is one key's half of a batch: a Put (Value non-nil) or a Delete
// (Value nil, meaning a tombstone is installed).
type Write struct {
	Key   keyspace.Key
	Value *keyspace.Value
}

// ReserveVersion allocates and returns the next version number without
// installing anything. A caller that must durably log a commit before
// its writes become visible (internal/txn's WAL-backed commit path)
// reserves the version up front, so the WAL record can carry the exact
// version InstallAt will use once the append durably succeeds.
func (s *ShardedStore) ReserveVersion() Version {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	s.versionCounter++
	return Version(s.versionCounter)
}

// ApplyBatch installs a set of writes atomically at a single new version
// number, prepending one Record per key onto its version chain. Put,
// Delete and internal/txn's commit without a hook call it under their
// own serialization (the WAL-backed commit path uses ReserveVersion and
// InstallAt instead), so ApplyBatch itself only needs to make the
// multi-shard install appear atomic to concurrent readers, not to
// serialize against other writers.
func (s *ShardedStore) ApplyBatch(writes []Write) Version {
	s.versionMu.Lock()
	s.versionCounter++
	v := Version(s.versionCounter)
	s.versionMu.Unlock()

	byShard := make(map[*shard][]Write)
	for _, w := range writes {
		sh := s.shardFor(w.Key)
		byShard[sh] = append(byShard[sh], w)
	}

	for sh, ws := range byShard {
		sh.mu.Lock()
		for _, w := range ws {
			enc := w.Key.EncodeString()
			rec := &Record{Version: v, Value: w.Value, Next: sh.chains[enc]}
			sh.chains[enc] = rec
			sh.heads.Add(enc, rec)
		}
		sh.mu.Unlock()
	}
	return v
}

// Put is a convenience single-key ApplyBatch.
func (s *ShardedStore) Put(k keyspace.Key, v keyspace.Value) Version {
	return s.ApplyBatch([]Write{{Key: k, Value: &v}})
}

// Delete is a convenience single-key tombstone ApplyBatch.
func (s *ShardedStore) Delete(k keyspace.Key) Version {
	return s.ApplyBatch([]Write{{Key: k, Value: nil}})
}

// InstallAt installs a batch of writes at an explicit version rather
// than allocating a fresh one. Recovery uses this to replay WAL records
// at the commit version they were originally assigned, and snapshot
// loading uses it to seed the store without re-versioning every key.
func (s *ShardedStore) InstallAt(writes []Write, v Version) {
	s.versionMu.Lock()
	if uint64(v) > s.versionCounter {
		s.versionCounter = uint64(v)
	}
	s.versionMu.Unlock()

	byShard := make(map[*shard][]Write)
	for _, w := range writes {
		sh := s.shardFor(w.Key)
		byShard[sh] = append(byShard[sh], w)
	}
	for sh, ws := range byShard {
		sh.mu.Lock()
		for _, w := range ws {
			enc := w.Key.EncodeString()
			rec := &Record{Version: v, Value: w.Value, Next: sh.chains[enc]}
			sh.chains[enc] = rec
			sh.heads.Add(enc, rec)
		}
		sh.mu.Unlock()
	}
}

// ScanEntry is one visible key/value pair returned by a prefix scan.
type ScanEntry struct {
	Key   keyspace.Key
	Value keyspace.Value
}

// NewestVersion returns the version of the newest record for k visible
// at or below snap, or 0 if the key has no such record (including a
// tombstone, which still counts as a version for conflict detection -
// a delete is a write like any other).
func (s *ShardedStore) NewestVersion(k keyspace.Key, snap Snapshot) Version {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec := sh.chains[k.EncodeString()]
	for rec != nil {
		if rec.Version <= snap.Version {
			return rec.Version
		}
		rec = rec.Next
	}
	return 0
}

// ListByType returns every visible key/value pair of the given type tag
// within a branch, ordered by key. Primitives that enumerate their own
// collection (branch index, JSON document listing) use this rather than
// ScanPrefix when there is no common user-key prefix to filter on.
func (s *ShardedStore) ListByType(branch [16]byte, tag keyspace.TypeTag, snap Snapshot) []ScanEntry {
	return s.ScanPrefix(branch, tag, nil, snap)
}

// ScanPrefix returns every visible key/value pair under (branch, tag,
// prefix), ordered by key. It walks every shard; the store does not
// maintain a separate prefix index, matching the spec's note that range
// scans are a primitive-level convenience over the core's per-key
// visibility rule, not a core index.
func (s *ShardedStore) ScanPrefix(branch [16]byte, tag keyspace.TypeTag, prefix []byte, snap Snapshot) []ScanEntry {
	var out []ScanEntry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for encKey, rec := range sh.chains {
			k, err := keyspace.Decode([]byte(encKey))
			if err != nil {
				continue
			}
			if k.Namespace.BranchID != branch || k.Type != tag {
				continue
			}
			if !hasPrefix(k.UserKey, prefix) {
				continue
			}
			for r := rec; r != nil; r = r.Next {
				if r.Version <= snap.Version {
					if !r.IsTombstone() {
						out = append(out, ScanEntry{Key: k, Value: *r.Value})
					}
					break
				}
			}
		}
		sh.mu.RUnlock()
	}
	sortEntries(out)
	return out
}

// ScanAll returns every visible key/value pair in the store, ordered by
// key, regardless of branch or type tag. Checkpointing uses this to
// build the snapshot's KV section; it is the one caller that legitimately
// needs "every key", unlike ScanPrefix/ListByType which are scoped to a
// single primitive's slice of the keyspace.
func (s *ShardedStore) ScanAll(snap Snapshot) []ScanEntry {
	var out []ScanEntry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for encKey, rec := range sh.chains {
			k, err := keyspace.Decode([]byte(encKey))
			if err != nil {
				continue
			}
			for r := rec; r != nil; r = r.Next {
				if r.Version <= snap.Version {
					if !r.IsTombstone() {
						out = append(out, ScanEntry{Key: k, Value: *r.Value})
					}
					break
				}
			}
		}
		sh.mu.RUnlock()
	}
	sortEntries(out)
	return out
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func sortEntries(entries []ScanEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && keyspace.Compare(entries[j].Key, entries[j-1].Key) < 0; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// PruneBelow discards chain entries strictly older than a watermark
// version, as long as at least one record remains visible at or below
// the watermark (so no live snapshot loses visibility). Nothing in the
// engine or the scheduler calls it, so version chains grow unbounded
// unless a caller prunes them explicitly.
func (s *ShardedStore) PruneBelow(watermark Version) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, rec := range sh.chains {
			sh.chains[key] = prunedChain(rec, watermark)
		}
		sh.mu.Unlock()
	}
}

func prunedChain(rec *Record, watermark Version) *Record {
	if rec == nil {
		return nil
	}
	if rec.Version <= watermark {
		rec.Next = nil
		return rec
	}
	rec.Next = prunedChain(rec.Next, watermark)
	return rec
}
