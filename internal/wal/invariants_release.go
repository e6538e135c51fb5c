//go:build !debug

package wal

// checkCommitVersionMonotonic is a no-op in release builds; see the
// debug-build counterpart for the actual D4 check.
func checkCommitVersionMonotonic(prev, next uint64) {}
