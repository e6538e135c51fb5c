package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const segmentFilePattern = "wal-%06d.seg"
const metaSuffix = ".meta"

// SegmentPath returns the path for segment number n under dir.
func SegmentPath(dir string, n uint64) string {
	return filepath.Join(dir, fmt.Sprintf(segmentFilePattern, n))
}

// MetaPath returns the sidecar metadata path for a segment.
func MetaPath(segmentPath string) string {
	return segmentPath + metaSuffix
}

// ListSegments returns every segment number found in dir, ascending.
// Non-matching files (including .meta sidecars) are ignored.
func ListSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read segment directory: %w", err)
	}

	var nums []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".seg") {
		return 0, false
	}
	numStr := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".seg")
	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
