package wal

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func writeSegmentWithRecords(t *testing.T, dir string, segNum uint64, dbID uuid.UUID, records []Record) {
	t.Helper()
	f, err := os.Create(SegmentPath(dir, segNum))
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write(EncodeSegmentHeader(SegmentHeader{Version: SegmentFormatVersion, SegmentNum: segNum, DatabaseUUID: dbID}))
	require.NoError(t, err)

	for _, r := range records {
		encoded, err := EncodeRecord(r)
		require.NoError(t, err)
		_, err = f.Write(encoded)
		require.NoError(t, err)
	}
}

func TestReplayAppliesRecordsAboveWatermark(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	writeSegmentWithRecords(t, dir, 1, dbID, []Record{
		testRecord(1),
		testRecord(2),
		testRecord(3),
	})

	var applied []uint64
	r := NewReader(dir, nil)
	stats, partial, err := r.Replay(1, func(rec Record) error {
		applied = append(applied, rec.CommitVersion)
		return nil
	})

	require.NoError(t, err)
	require.Nil(t, partial)
	require.Equal(t, []uint64{2, 3}, applied)
	require.Equal(t, 1, stats.RecordsSkipped)
	require.Equal(t, 2, stats.RecordsApplied)
	require.Equal(t, 3, stats.RecordsRead)
}

func TestReplayAcrossMultipleSegmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	writeSegmentWithRecords(t, dir, 1, dbID, []Record{testRecord(1)})
	writeSegmentWithRecords(t, dir, 2, dbID, []Record{testRecord(2)})

	var applied []uint64
	r := NewReader(dir, nil)
	_, partial, err := r.Replay(0, func(rec Record) error {
		applied = append(applied, rec.CommitVersion)
		return nil
	})
	require.NoError(t, err)
	require.Nil(t, partial)
	require.Equal(t, []uint64{1, 2}, applied)
}

func TestReplayDetectsPartialRecordAtEndOfActiveSegment(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	writeSegmentWithRecords(t, dir, 1, dbID, []Record{testRecord(1)})

	encoded, err := EncodeRecord(testRecord(2))
	require.NoError(t, err)

	f, err := os.OpenFile(SegmentPath(dir, 1), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write(encoded[:len(encoded)-3]) // truncate mid-record
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := NewReader(dir, nil)
	stats, partial, err := r.Replay(0, func(Record) error { return nil })
	require.NoError(t, err)
	require.NotNil(t, partial)
	require.Equal(t, 1, stats.RecordsApplied)
}

func TestReplaySkipsCorruptedRecordAndContinues(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	writeSegmentWithRecords(t, dir, 1, dbID, []Record{testRecord(1), testRecord(2)})

	path := SegmentPath(dir, 1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	first, err := EncodeRecord(testRecord(1))
	require.NoError(t, err)
	corruptOffset := SegmentHeaderSize + len(first) - 5
	data[corruptOffset] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	var applied []uint64
	r := NewReader(dir, nil)
	stats, partial, err := r.Replay(0, func(rec Record) error {
		applied = append(applied, rec.CommitVersion)
		return nil
	})
	require.NoError(t, err)
	require.Nil(t, partial)
	require.Equal(t, []uint64{2}, applied)
	require.Equal(t, 1, stats.RecordsSkippedCorrupted)
}

func TestReplayReturnsErrorOnUnknownSegmentNumberMismatch(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	writeSegmentWithRecords(t, dir, 1, dbID, []Record{testRecord(1)})

	// Copy segment 1's bytes into a file whose name claims segment 2.
	data, err := os.ReadFile(SegmentPath(dir, 1))
	require.NoError(t, err)
	require.NoError(t, os.Remove(SegmentPath(dir, 1)))
	require.NoError(t, os.WriteFile(SegmentPath(dir, 2), data, 0644))

	r := NewReader(dir, nil)
	_, _, err = r.Replay(0, func(Record) error { return nil })
	require.ErrorIs(t, err, ErrBadSegmentHeader)
}
