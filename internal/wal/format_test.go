package wal

import (
	"hash/crc32"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSegmentHeaderRoundTrip(t *testing.T) {
	h := SegmentHeader{Version: SegmentFormatVersion, SegmentNum: 7, DatabaseUUID: uuid.New()}
	buf := EncodeSegmentHeader(h)
	require.Len(t, buf, SegmentHeaderSize)

	got, err := DecodeSegmentHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeSegmentHeaderRejectsBadMagic(t *testing.T) {
	buf := EncodeSegmentHeader(SegmentHeader{Version: 1, SegmentNum: 1, DatabaseUUID: uuid.New()})
	buf[0] = 'X'
	_, err := DecodeSegmentHeader(buf)
	require.ErrorIs(t, err, ErrBadSegmentHeader)
}

func TestRecordRoundTrip(t *testing.T) {
	r := Record{
		CommitVersion: 42,
		BranchID:      uuid.New(),
		Timestamp:     1234567,
		Writeset:      []byte("hello writeset"),
	}
	encoded, err := EncodeRecord(r)
	require.NoError(t, err)

	totalLen := byteOrder.Uint32(encoded[:RecordLenSize])
	require.Equal(t, int(totalLen), len(encoded)-RecordLenSize)

	got, err := DecodeRecord(encoded[RecordLenSize:])
	require.NoError(t, err)
	require.Equal(t, r.CommitVersion, got.CommitVersion)
	require.Equal(t, r.BranchID, got.BranchID)
	require.Equal(t, r.Timestamp, got.Timestamp)
	require.Equal(t, r.Writeset, got.Writeset)
}

func TestRecordRoundTripEmptyWriteset(t *testing.T) {
	r := Record{CommitVersion: 1, BranchID: uuid.New(), Timestamp: 1}
	encoded, err := EncodeRecord(r)
	require.NoError(t, err)

	got, err := DecodeRecord(encoded[RecordLenSize:])
	require.NoError(t, err)
	require.Empty(t, got.Writeset)
}

func TestEncodeRecordRejectsOversizedPayload(t *testing.T) {
	r := Record{CommitVersion: 1, BranchID: uuid.New(), Writeset: make([]byte, MaxPayloadSize+1)}
	_, err := EncodeRecord(r)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecodeRecordDetectsCRCMismatch(t *testing.T) {
	r := Record{CommitVersion: 1, BranchID: uuid.New(), Timestamp: 1, Writeset: []byte("abc")}
	encoded, err := EncodeRecord(r)
	require.NoError(t, err)

	body := encoded[RecordLenSize:]
	body[len(body)-5] ^= 0xFF // flip a bit inside the writeset

	_, err = DecodeRecord(body)
	require.ErrorIs(t, err, ErrCRCMismatch)
}

func TestDecodeRecordRejectsUnknownFormatVersion(t *testing.T) {
	r := Record{CommitVersion: 1, BranchID: uuid.New(), Timestamp: 1, Writeset: []byte("abc")}
	encoded, err := EncodeRecord(r)
	require.NoError(t, err)

	body := encoded[RecordLenSize:]
	body[0] = 0xEE
	// Recompute CRC over the tampered body so this is a decode failure,
	// not a CRC mismatch.
	crc := crc32.ChecksumIEEE(body[:len(body)-CRCSize])
	byteOrder.PutUint32(body[len(body)-CRCSize:], crc)

	_, err = DecodeRecord(body)
	require.ErrorIs(t, err, ErrParseError)
}

func TestDecodeRecordRejectsTooShortBody(t *testing.T) {
	_, err := DecodeRecord([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrCorruptRecord)
}
