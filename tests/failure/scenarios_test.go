// Package failure exercises the core's crash-and-corruption handling
// against the concrete scenarios named in the testable-properties
// section: a WAL tail truncated mid-record (S4), and WAL-only
// compaction deleting exactly the segments a snapshot watermark makes
// redundant (S6).
package failure

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/internal/codec"
	"github.com/strata-db/strata/internal/config"
	"github.com/strata-db/strata/internal/engine"
	"github.com/strata-db/strata/internal/keyspace"
	"github.com/strata-db/strata/internal/recovery"
	"github.com/strata-db/strata/internal/store"
	"github.com/strata-db/strata/internal/wal"
)

// S4 - Partial WAL. Write three records, then inject truncation removing
// the last 10 bytes of the third. Open database: recovery returns stats
// {records_applied=2, truncate_info=Some(...)}. Read keys from records
// 1-2: present; keys from record 3: absent.
func TestScenarioS4_PartialWAL(t *testing.T) {
	dir := t.TempDir()
	branch := uuid.New()
	keys := []string{"k1", "k2", "k3"}

	cfg := config.Default()
	db, err := engine.Open(dir, cfg)
	require.NoError(t, err)

	for i, k := range keys {
		tx, err := db.BeginTransaction(branch)
		require.NoError(t, err)
		key := keyspace.New(branch, keyspace.TypeKV, []byte(k))
		require.NoError(t, tx.Put(key, keyspace.String(fmt.Sprintf("v%d", i+1))))
		_, err = tx.Commit()
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	walDir := filepath.Join(dir, "WAL")
	segs, err := wal.ListSegments(walDir)
	require.NoError(t, err)
	active := segs[len(segs)-1]
	path := wal.SegmentPath(walDir, active)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-10))

	c, ok := codec.Lookup(cfg.CodecID)
	require.True(t, ok)

	st := store.New(0)
	rc := recovery.New(dir, c, nil)
	_, stats, err := rc.Open(st)
	require.NoError(t, err)

	assert.EqualValues(t, 2, stats.RecordsApplied)
	assert.NotZero(t, stats.FinalVersion)

	snap := st.Acquire()
	k1 := keyspace.New(branch, keyspace.TypeKV, []byte("k1"))
	k2 := keyspace.New(branch, keyspace.TypeKV, []byte("k2"))
	k3 := keyspace.New(branch, keyspace.TypeKV, []byte("k3"))

	v, ok := st.Get(k1, snap)
	require.True(t, ok)
	assert.Equal(t, "v1", v.Str)

	v, ok = st.Get(k2, snap)
	require.True(t, ok)
	assert.Equal(t, "v2", v.Str)

	_, ok = st.Get(k3, snap)
	assert.False(t, ok, "key from the truncated third record must not be visible")
}

// S6 - WAL-only compaction. A run of commits small enough to force
// several segment rotations, a snapshot taken partway through, and a
// compaction pass: every closed segment whose max commit version is at
// or below the snapshot watermark is deleted; everything above it, and
// the active segment, survives.
func TestScenarioS6_WALOnlyCompaction(t *testing.T) {
	dir := t.TempDir()
	branch := uuid.New()

	cfg := config.Default()
	cfg.WAL.SegmentSize = 512 // force frequent rotation so the run produces several closed segments

	db, err := engine.Open(dir, cfg)
	require.NoError(t, err)
	defer db.Close()

	walDir := filepath.Join(dir, "WAL")
	var watermark uint64
	var segsBefore []uint64
	for i := 1; i <= 200; i++ {
		tx, err := db.BeginTransaction(branch)
		require.NoError(t, err)
		key := keyspace.New(branch, keyspace.TypeKV, []byte(fmt.Sprintf("k%04d", i)))
		require.NoError(t, tx.Put(key, keyspace.String("payload-long-enough-to-grow-the-segment-quickly")))
		ver, err := tx.Commit()
		require.NoError(t, err)

		if i == 100 {
			watermark = uint64(ver)
			// Every segment present before the first snapshot holds only
			// versions at or below the watermark, and none can have been
			// compacted yet.
			segsBefore, err = wal.ListSegments(walDir)
			require.NoError(t, err)
			require.Greater(t, len(segsBefore), 2, "test setup needs multiple rotated segments to be meaningful")
			_, err := db.Checkpoint()
			require.NoError(t, err)
		}
	}

	_, err = db.Compact()
	require.NoError(t, err)

	// Checkpoint, and every segment rotation after it, submit a
	// background compaction too, so the explicit Compact call above may
	// race with them; assert on the settled end state rather than on
	// which call did the deleting.
	require.Eventually(t, func() bool {
		segs, err := wal.ListSegments(walDir)
		if err != nil || len(segs) == 0 {
			return false
		}
		active := segs[len(segs)-1]
		for _, n := range segs {
			if n == active {
				continue
			}
			maxVer, ok := wal.ReadSegmentMeta(wal.SegmentPath(walDir, n))
			if !ok {
				maxVer, ok = wal.ScanSegmentMaxVersion(walDir, n)
			}
			if !ok || maxVer <= watermark {
				return false
			}
		}
		return segs[0] > segsBefore[len(segsBefore)-1]
	}, 2*time.Second, 20*time.Millisecond, "compaction should remove every closed segment at or below the watermark")
}
