package wal

import "errors"

var (
	ErrPayloadTooLarge  = errors.New("wal: payload exceeds maximum size")
	ErrCorruptRecord    = errors.New("wal: corrupt record: invalid length or format")
	ErrCRCMismatch      = errors.New("wal: crc mismatch")
	ErrFileOpen         = errors.New("wal: failed to open file")
	ErrFileWrite        = errors.New("wal: failed to write file")
	ErrFileSync         = errors.New("wal: failed to sync file")
	ErrFileRead         = errors.New("wal: failed to read file")
	ErrBadSegmentHeader = errors.New("wal: segment header magic or number mismatch")
	ErrSegmentClosed    = errors.New("wal: segment is closed for writing")
	ErrUnsupportedMode  = errors.New("wal: unsupported durability mode")

	// ErrParseError signals a decode failure on an otherwise CRC-valid
	// record: a codec/format incompatibility, not corruption. Per §4.E
	// this must stop replay rather than be skipped like a CRC mismatch.
	ErrParseError = errors.New("wal: record decode failed despite valid crc")
)

// PartialRecordError is reported by Reader.Replay when a record's declared
// length extends past the bytes actually present in the segment - the
// writer crashed mid-append. ValidOffset is the file offset immediately
// before the partial record, where the caller should truncate to resume
// writing.
type PartialRecordError struct {
	ValidOffset int64
}

func (e *PartialRecordError) Error() string {
	return "wal: partial record at end of segment"
}
