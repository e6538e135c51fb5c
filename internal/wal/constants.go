package wal

// Segment header: "STRA"(4) | ver(4) | seg_number(8) | db_uuid(16) = 32B.
const (
	SegmentMagic        = "STRA"
	SegmentHeaderSize   = 4 + 4 + 8 + 16
	SegmentFormatVersion = 1
)

// Record: total_len(4) | format_version(1) | txn_id(8) | branch_id(16) |
// timestamp_us(8) | writeset(var) | crc32(4).
const (
	RecordLenSize      = 4
	RecordFormatVerLen = 1
	TxnIDSize          = 8
	BranchIDSize       = 16
	TimestampSize      = 8
	CRCSize            = 4

	// RecordFixedOverhead is everything in a record besides total_len
	// itself and the variable-length writeset: format_version + txn_id +
	// branch_id + timestamp + crc32.
	RecordFixedOverhead = RecordFormatVerLen + TxnIDSize + BranchIDSize + TimestampSize + CRCSize

	// MinTotalLen is the smallest legal total_len: format_version(1) +
	// crc32(4), an empty payload with no txn header at all. Per spec
	// §4.D, any declared total_len below this is corruption.
	MinTotalLen = 5

	RecordFormatVersion = 1
)

// MaxPayloadSize bounds a single record's writeset, used both to reject
// clearly-bogus declared lengths during replay and to size read buffers.
const MaxPayloadSize = 64 * 1024 * 1024

// DefaultSegmentSize is the rotation threshold when none is configured.
const DefaultSegmentSize = 64 * 1024 * 1024
