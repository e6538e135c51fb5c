package wal

import (
	"os"
)

// segmentMeta is the tiny sidecar written next to a closed segment so
// compaction can learn its max commit version without a full scan.
// Format: format_version(1) | max_commit_version(8).
const segmentMetaSize = 1 + 8
const segmentMetaFormatVersion = 1

func writeSegmentMeta(segmentPath string, maxCommitVersion uint64) error {
	buf := make([]byte, segmentMetaSize)
	buf[0] = segmentMetaFormatVersion
	byteOrder.PutUint64(buf[1:], maxCommitVersion)

	path := MetaPath(segmentPath)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return ErrFileOpen
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return ErrFileWrite
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return ErrFileSync
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadSegmentMeta loads a segment's sidecar if present. ok is false if
// the sidecar doesn't exist or is malformed, in which case the caller
// should fall back to scanning the segment directly.
func ReadSegmentMeta(segmentPath string) (maxCommitVersion uint64, ok bool) {
	buf, err := os.ReadFile(MetaPath(segmentPath))
	if err != nil || len(buf) != segmentMetaSize {
		return 0, false
	}
	if buf[0] != segmentMetaFormatVersion {
		return 0, false
	}
	return byteOrder.Uint64(buf[1:]), true
}
