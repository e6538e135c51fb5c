// Package integration exercises the engine end to end against the
// concrete scenarios named in the core's testable-properties section:
// a transaction committing, crashing, and recovering intact (S1), and
// a snapshot plus above-watermark WAL replay reconstructing exactly
// the state a longer run of commits would have produced (S5).
package integration

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/internal/config"
	"github.com/strata-db/strata/internal/engine"
	"github.com/strata-db/strata/internal/keyspace"
)

// S1 - Commit then recover. Begin T; put("a","1"); commit returns
// version 1. Crash (drop in-memory state; close files). Open database.
// Read "a" at the latest snapshot: returns "1" with version 1.
func TestScenarioS1_CommitThenRecover(t *testing.T) {
	dir := t.TempDir()
	branch := uuid.New()
	key := keyspace.New(branch, keyspace.TypeKV, []byte("a"))

	db, err := engine.Open(dir, config.Default())
	require.NoError(t, err)

	tx, err := db.BeginTransaction(branch)
	require.NoError(t, err)
	require.NoError(t, tx.Put(key, keyspace.String("1")))
	ver, err := tx.Commit()
	require.NoError(t, err)
	require.EqualValues(t, 1, ver)

	// Crash: drop in-memory state without a clean shutdown. Close still
	// closes the file handle (we're not simulating a kill -9 here), but
	// nothing in-memory is carried forward - the next Open must rebuild
	// everything purely from what's on disk.
	require.NoError(t, db.Close())

	db2, err := engine.Open(dir, config.Default())
	require.NoError(t, err)
	defer db2.Close()

	tx2, err := db2.BeginTransaction(branch)
	require.NoError(t, err)
	v, ok, err := tx2.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v.Str)
}

// S5 - Snapshot + WAL replay. Commit 100 transactions (versions
// 1..100). Take a snapshot at watermark 60. Crash. Open: recovery
// loads snapshot state for versions <= 60, then replays WAL records
// with version > 60. Final state equals the state after commit 100.
func TestScenarioS5_SnapshotPlusWALReplay(t *testing.T) {
	dir := t.TempDir()
	branch := uuid.New()

	db, err := engine.Open(dir, config.Default())
	require.NoError(t, err)

	keyAt := func(i int) keyspace.Key {
		return keyspace.New(branch, keyspace.TypeKV, []byte(fmt.Sprintf("k%03d", i)))
	}

	for i := 1; i <= 100; i++ {
		tx, err := db.BeginTransaction(branch)
		require.NoError(t, err)
		require.NoError(t, tx.Put(keyAt(i), keyspace.String(fmt.Sprintf("v%d", i))))
		ver, err := tx.Commit()
		require.NoError(t, err)
		require.EqualValues(t, i, ver)

		if i == 60 {
			watermark, err := db.Checkpoint()
			require.NoError(t, err)
			require.EqualValues(t, 60, watermark)
		}
	}

	require.NoError(t, db.Close())

	db2, err := engine.Open(dir, config.Default())
	require.NoError(t, err)
	defer db2.Close()

	tx, err := db2.BeginTransaction(branch)
	require.NoError(t, err)
	for i := 1; i <= 100; i++ {
		v, ok, err := tx.Get(keyAt(i))
		require.NoError(t, err)
		require.Truef(t, ok, "key %d missing after recovery", i)
		assert.Equal(t, fmt.Sprintf("v%d", i), v.Str)
	}

	stats := db2.Stats()
	assert.EqualValues(t, 100, stats.CurrentVersion)
	assert.EqualValues(t, 60, stats.SnapshotWatermark)
}
