// Package concurrency exercises optimistic concurrency control under
// the concrete scenarios named in the core's testable-properties
// section: a write/write conflict aborting the loser (S2), and two
// concurrent compare-and-swap attempts on the same key serializing to
// exactly one winner (S3).
package concurrency

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-db/strata/internal/config"
	"github.com/strata-db/strata/internal/engine"
	"github.com/strata-db/strata/internal/keyspace"
	"github.com/strata-db/strata/internal/txn"
)

func openTestDB(t *testing.T) *engine.Database {
	t.Helper()
	db, err := engine.Open(t.TempDir(), config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// S2 - Write conflict. T1 begins at v=N; reads "k" (absent). T2 begins
// at v=N; puts "k"="x"; commits. T1 puts "k"="y"; commits: validation
// finds the current version of "k" newer than T1 observed, so T1 aborts
// with a conflict on "k". Reading "k" afterwards returns "x".
func TestScenarioS2_WriteConflict(t *testing.T) {
	db := openTestDB(t)
	branch := uuid.New()
	k := keyspace.New(branch, keyspace.TypeKV, []byte("k"))

	t1, err := db.BeginTransaction(branch)
	require.NoError(t, err)
	_, ok, err := t1.Get(k)
	require.NoError(t, err)
	require.False(t, ok)

	t2, err := db.BeginTransaction(branch)
	require.NoError(t, err)
	require.NoError(t, t2.Put(k, keyspace.String("x")))
	_, err = t2.Commit()
	require.NoError(t, err)

	require.NoError(t, t1.Put(k, keyspace.String("y")))
	_, err = t1.Commit()
	require.Error(t, err)

	var conflict *txn.ErrConflict
	if assert.ErrorAs(t, err, &conflict) {
		assert.False(t, conflict.CAS)
	}

	t3, err := db.BeginTransaction(branch)
	require.NoError(t, err)
	v, ok, err := t3.Get(k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", v.Str)
}

// S3 - CAS. "c" starts absent in a fresh database (expected_version 0).
// Two concurrent transactions cas("c", expected=absent, new=1) and
// cas("c", expected=absent, new=2) race; the commit mutex
// serializes them, one succeeds and the other aborts with cas_mismatch.
func TestScenarioS3_ConcurrentCAS(t *testing.T) {
	db := openTestDB(t)
	branch := uuid.New()
	c := keyspace.New(branch, keyspace.TypeKV, []byte("c"))

	// Warm the key up to a known absent state (expected_version 0 means
	// "must not exist"), matching the spec's "init c=0" setup in spirit:
	// no prior write has ever landed for c in this fresh database.

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]error, 2)
	versions := make([]uint64, 2)

	attempt := func(i int, newVal int64) {
		defer wg.Done()
		tx, err := db.BeginTransaction(branch)
		require.NoError(t, err)
		require.NoError(t, tx.CompareAndSwap(c, 0, keyspace.I64(newVal)))
		<-start
		v, err := tx.Commit()
		results[i] = err
		versions[i] = uint64(v)
	}

	wg.Add(2)
	go attempt(0, 1)
	go attempt(1, 2)
	close(start)
	wg.Wait()

	successes, failures := 0, 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		failures++
		var conflict *txn.ErrConflict
		if assert.ErrorAs(t, err, &conflict) {
			assert.True(t, conflict.CAS)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)

	tx, err := db.BeginTransaction(branch)
	require.NoError(t, err)
	v, ok, err := tx.Get(c)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, []int64{1, 2}, v.I64)
}
