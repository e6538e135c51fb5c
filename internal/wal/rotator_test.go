package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentPathNaming(t *testing.T) {
	require.Equal(t, filepath.Join("dir", "wal-000042.seg"), SegmentPath("dir", 42))
}

func TestMetaPathAppendsSuffix(t *testing.T) {
	require.Equal(t, "dir/wal-000001.seg.meta", MetaPath("dir/wal-000001.seg"))
}

func TestListSegmentsReturnsSortedNumbers(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []uint64{3, 1, 2} {
		require.NoError(t, os.WriteFile(SegmentPath(dir, n), []byte("x"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wal-000001.seg.meta"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-a-segment.txt"), []byte("x"), 0644))

	nums, err := ListSegments(dir)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, nums)
}

func TestListSegmentsOnMissingDirReturnsEmpty(t *testing.T) {
	nums, err := ListSegments(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Empty(t, nums)
}

func TestParseSegmentNameRejectsMalformed(t *testing.T) {
	cases := []string{"wal-abc.seg", "wal-000001.log", "notwal-000001.seg", "wal-000001"}
	for _, name := range cases {
		_, ok := parseSegmentName(name)
		require.False(t, ok, name)
	}
}
