package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"
)

var byteOrder = binary.LittleEndian

// SegmentHeader identifies a segment file: magic, format version,
// segment number, and the owning database's id. The number is
// duplicated in the filename so a renamed or copied file can still be
// cross-checked against its own header.
type SegmentHeader struct {
	Version      uint32
	SegmentNum   uint64
	DatabaseUUID uuid.UUID
}

// EncodeSegmentHeader produces the fixed 32-byte segment header.
func EncodeSegmentHeader(h SegmentHeader) []byte {
	buf := make([]byte, SegmentHeaderSize)
	copy(buf[0:4], []byte(SegmentMagic))
	byteOrder.PutUint32(buf[4:8], h.Version)
	byteOrder.PutUint64(buf[8:16], h.SegmentNum)
	copy(buf[16:32], h.DatabaseUUID[:])
	return buf
}

// DecodeSegmentHeader parses a 32-byte segment header, validating the
// magic bytes.
func DecodeSegmentHeader(buf []byte) (SegmentHeader, error) {
	if len(buf) < SegmentHeaderSize {
		return SegmentHeader{}, ErrBadSegmentHeader
	}
	if string(buf[0:4]) != SegmentMagic {
		return SegmentHeader{}, ErrBadSegmentHeader
	}
	var h SegmentHeader
	h.Version = byteOrder.Uint32(buf[4:8])
	h.SegmentNum = byteOrder.Uint64(buf[8:16])
	copy(h.DatabaseUUID[:], buf[16:32])
	return h, nil
}

// Record is one decoded WAL entry: a commit envelope plus its
// codec-encoded writeset, exactly the fields the transaction manager's
// commit step produces and the recovery coordinator consumes. The wire
// format's first 8-byte field is named txn_id, but the value carried
// there is the assigned commit version: it is what recovery compares
// against a snapshot watermark to decide whether to replay a record.
type Record struct {
	CommitVersion uint64
	BranchID      uuid.UUID
	Timestamp     uint64 // microseconds since the Unix epoch
	Writeset      []byte // codec-encoded; opaque to the WAL layer
}

// EncodeRecord serializes a Record into its on-disk framing:
// total_len(4) | format_version(1) | txn_id(8) | branch_id(16) |
// timestamp_us(8) | writeset(var) | crc32(4), where total_len excludes
// itself and crc32 covers format_version..writeset.
func EncodeRecord(r Record) ([]byte, error) {
	if len(r.Writeset) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	body := RecordFixedOverhead - CRCSize + len(r.Writeset) // format_version+txn_id+branch_id+timestamp+writeset
	totalLen := body + CRCSize
	buf := make([]byte, RecordLenSize+totalLen)

	byteOrder.PutUint32(buf[0:4], uint32(totalLen))
	off := RecordLenSize

	buf[off] = RecordFormatVersion
	off += RecordFormatVerLen

	byteOrder.PutUint64(buf[off:], r.CommitVersion)
	off += TxnIDSize

	copy(buf[off:off+BranchIDSize], r.BranchID[:])
	off += BranchIDSize

	byteOrder.PutUint64(buf[off:], r.Timestamp)
	off += TimestampSize

	copy(buf[off:], r.Writeset)
	off += len(r.Writeset)

	crc := crc32.ChecksumIEEE(buf[RecordLenSize:off])
	byteOrder.PutUint32(buf[off:], crc)

	return buf, nil
}

// DecodeRecord parses bytes produced by EncodeRecord, excluding the
// leading total_len field (the caller has already read and validated
// it). body is exactly total_len bytes: format_version..crc32.
func DecodeRecord(body []byte) (Record, error) {
	if len(body) < MinTotalLen {
		return Record{}, ErrCorruptRecord
	}

	storedCRC := byteOrder.Uint32(body[len(body)-CRCSize:])
	computedCRC := crc32.ChecksumIEEE(body[:len(body)-CRCSize])
	if storedCRC != computedCRC {
		return Record{}, ErrCRCMismatch
	}

	if body[0] != RecordFormatVersion {
		return Record{}, ErrParseError
	}

	off := RecordFormatVerLen
	minFixed := RecordFormatVerLen + TxnIDSize + BranchIDSize + TimestampSize + CRCSize
	if len(body) < minFixed {
		return Record{}, ErrParseError
	}

	commitVersion := byteOrder.Uint64(body[off:])
	off += TxnIDSize

	var branch uuid.UUID
	copy(branch[:], body[off:off+BranchIDSize])
	off += BranchIDSize

	ts := byteOrder.Uint64(body[off:])
	off += TimestampSize

	writeset := body[off : len(body)-CRCSize]
	wsCopy := make([]byte, len(writeset))
	copy(wsCopy, writeset)

	return Record{CommitVersion: commitVersion, BranchID: branch, Timestamp: ts, Writeset: wsCopy}, nil
}
