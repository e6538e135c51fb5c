// Package manifest implements the MANIFEST file: the single piece of
// global metadata a database has, recording its id, storage codec, the
// currently active WAL segment, and the watermark of its most recent
// durable snapshot (if any). It is the first thing recovery reads and
// the last thing any mutating operation persists.
package manifest

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	magic          = "STRM"
	formatVersion  = 1
	fixedHeaderLen = 4 + 4 + 16 // magic + version + db_uuid
	crcLen         = 4
)

var (
	// ErrBadMagic is returned when a file's leading bytes aren't "STRM".
	ErrBadMagic = errors.New("manifest: bad magic")
	// ErrCRCMismatch means the file is present but corrupt.
	ErrCRCMismatch = errors.New("manifest: crc mismatch")
	// ErrCodecMismatch is returned by Load when the caller's configured
	// codec does not match the one the database was created with.
	ErrCodecMismatch = errors.New("manifest: codec id mismatch")
	// ErrTooShort means the file is smaller than the fixed header.
	ErrTooShort = errors.New("manifest: file too short")
)

const fileName = "MANIFEST"

// Manifest is the in-memory, mutable view of a database's MANIFEST
// file. Every setter here persists the change by calling Save itself.
type Manifest struct {
	DatabaseID        uuid.UUID
	CodecID           string
	ActiveWALSegment  uint64
	SnapshotWatermark uint64 // 0 = none
	SnapshotID        uint64 // 0 = none

	path string
}

// Path returns the MANIFEST path under a database root directory.
func Path(dbRoot string) string {
	return filepath.Join(dbRoot, fileName)
}

// Create produces a fresh v1 manifest for a brand-new database with a
// newly generated id, and persists it immediately.
func Create(dbRoot string, codecID string) (*Manifest, error) {
	m := &Manifest{
		DatabaseID:       uuid.New(),
		CodecID:          codecID,
		ActiveWALSegment: 1,
		path:             Path(dbRoot),
	}
	if err := m.Save(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads and validates an existing MANIFEST, checking the magic,
// the CRC, and (if expectedCodecID is non-empty) that the stored codec
// id matches what the caller configured.
func Load(dbRoot string, expectedCodecID string) (*Manifest, error) {
	path := Path(dbRoot)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m, err := decode(buf)
	if err != nil {
		return nil, err
	}
	m.path = path

	if expectedCodecID != "" && m.CodecID != expectedCodecID {
		return nil, ErrCodecMismatch
	}
	return m, nil
}

// Exists reports whether a MANIFEST file is present under dbRoot.
func Exists(dbRoot string) bool {
	_, err := os.Stat(Path(dbRoot))
	return err == nil
}

// SetActiveSegment updates the active WAL segment and persists.
func (m *Manifest) SetActiveSegment(n uint64) error {
	m.ActiveWALSegment = n
	return m.Save()
}

// SetSnapshotWatermark records a newly taken snapshot and persists.
func (m *Manifest) SetSnapshotWatermark(snapshotID, watermark uint64) error {
	m.SnapshotID = snapshotID
	m.SnapshotWatermark = watermark
	return m.Save()
}

// ClearSnapshot removes the snapshot reference (e.g. if a snapshot file
// was deleted out-of-band) and persists.
func (m *Manifest) ClearSnapshot() error {
	m.SnapshotID = 0
	m.SnapshotWatermark = 0
	return m.Save()
}

// HasSnapshot reports whether this manifest references a snapshot.
func (m *Manifest) HasSnapshot() bool {
	return m.SnapshotID != 0
}

// Save persists the manifest atomically: write a temp file, fsync,
// rename over the real path, fsync the parent directory.
func (m *Manifest) Save() error {
	buf := encode(m)

	dir := filepath.Dir(m.path)
	tmp := m.path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return err
	}

	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync()
		dirFile.Close()
	}
	return nil
}

func encode(m *Manifest) []byte {
	codecBytes := []byte(m.CodecID)
	size := fixedHeaderLen + 4 + len(codecBytes) + 8 + 8 + 8 + crcLen
	buf := make([]byte, size)

	off := 0
	copy(buf[off:off+4], []byte(magic))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], formatVersion)
	off += 4
	copy(buf[off:off+16], m.DatabaseID[:])
	off += 16
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(codecBytes)))
	off += 4
	copy(buf[off:off+len(codecBytes)], codecBytes)
	off += len(codecBytes)
	binary.LittleEndian.PutUint64(buf[off:], m.ActiveWALSegment)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], m.SnapshotWatermark)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], m.SnapshotID)
	off += 8

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)

	return buf
}

func decode(buf []byte) (*Manifest, error) {
	if len(buf) < fixedHeaderLen+4+crcLen {
		return nil, ErrTooShort
	}
	if string(buf[0:4]) != magic {
		return nil, ErrBadMagic
	}

	storedCRC := binary.LittleEndian.Uint32(buf[len(buf)-crcLen:])
	computedCRC := crc32.ChecksumIEEE(buf[:len(buf)-crcLen])
	if storedCRC != computedCRC {
		return nil, ErrCRCMismatch
	}

	off := 4
	off += 4 // format version, unused for now beyond presence

	var m Manifest
	copy(m.DatabaseID[:], buf[off:off+16])
	off += 16

	codecLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if off+int(codecLen) > len(buf)-crcLen {
		return nil, ErrTooShort
	}
	m.CodecID = string(buf[off : off+int(codecLen)])
	off += int(codecLen)

	if off+24+crcLen > len(buf) {
		return nil, ErrTooShort
	}
	m.ActiveWALSegment = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	m.SnapshotWatermark = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	m.SnapshotID = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	return &m, nil
}
