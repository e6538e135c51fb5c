// Package codec defines the pluggable storage codec used to serialize
// a transaction's writeset for both the WAL record payload and
// snapshot sections. The default is identity: keys and values are
// encoded with keyspace's own wire format and concatenated, with no
// compression. A deployment wanting compressed WAL payloads implements
// this interface and wires it in at open time; the core never assumes
// identity encoding beyond what this package provides.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/strata-db/strata/internal/keyspace"
	"github.com/strata-db/strata/internal/memory"
)

// scratchPool supplies the growable scratch buffer EncodeWriteset
// builds the wire payload in, so back-to-back commits on the same
// goroutine don't each allocate and discard a fresh slice.
var scratchPool = memory.NewBufferPool(nil)

// Entry is one write in a writeset: Put when Value is non-nil, Delete
// when it is nil - mirroring store.Record's tombstone convention so
// recovery can feed decoded entries straight into store.Write.
type Entry struct {
	Key   keyspace.Key
	Value *keyspace.Value
}

// Codec encodes and decodes a writeset to and from the opaque byte
// payload carried by WAL records and snapshot sections.
type Codec interface {
	ID() string
	EncodeWriteset(entries []Entry) ([]byte, error)
	DecodeWriteset(data []byte) ([]Entry, error)
}

// Identity is the default codec: no compression, a straightforward
// length-prefixed framing of each entry.
type Identity struct{}

func (Identity) ID() string { return "identity" }

func (Identity) EncodeWriteset(entries []Entry) ([]byte, error) {
	arena := memory.NewArena(scratchPool)
	defer arena.Release()

	buf := arena.Alloc(4)[:0]
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(entries)))
	buf = append(buf, count...)

	for _, e := range entries {
		keyBytes := e.Key.Encode()
		appendUint32Prefixed(&buf, keyBytes)

		if e.Value == nil {
			buf = append(buf, 0) // tombstone marker
			continue
		}
		buf = append(buf, 1)
		valBytes, err := e.Value.Encode()
		if err != nil {
			return nil, fmt.Errorf("codec: encode value: %w", err)
		}
		appendUint32Prefixed(&buf, valBytes)
	}

	// buf may still be backed by a pooled array (small writesets never
	// outgrow the first bucket); arena.Release below returns that array
	// to the pool, so the returned slice must be an independent copy.
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func (Identity) DecodeWriteset(data []byte) ([]Entry, error) {
	if len(data) < 4 {
		if len(data) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("codec: truncated writeset header")
	}
	count := binary.LittleEndian.Uint32(data[:4])
	off := 4

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		keyBytes, n, err := readUint32Prefixed(data, off)
		if err != nil {
			return nil, err
		}
		off = n

		key, err := keyspace.Decode(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("codec: decode key: %w", err)
		}

		if off >= len(data) {
			return nil, fmt.Errorf("codec: truncated writeset entry")
		}
		hasValue := data[off]
		off++

		if hasValue == 0 {
			entries = append(entries, Entry{Key: key, Value: nil})
			continue
		}

		valBytes, n, err := readUint32Prefixed(data, off)
		if err != nil {
			return nil, err
		}
		off = n

		val, _, err := keyspace.DecodeValue(valBytes)
		if err != nil {
			return nil, fmt.Errorf("codec: decode value: %w", err)
		}
		entries = append(entries, Entry{Key: key, Value: &val})
	}

	return entries, nil
}

func appendUint32Prefixed(buf *[]byte, b []byte) {
	lenBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBytes, uint32(len(b)))
	*buf = append(*buf, lenBytes...)
	*buf = append(*buf, b...)
}

// readUint32Prefixed reads a length-prefixed field starting at off and
// returns the field bytes plus the offset immediately after it.
func readUint32Prefixed(data []byte, off int) ([]byte, int, error) {
	if off+4 > len(data) {
		return nil, 0, fmt.Errorf("codec: truncated length prefix")
	}
	l := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if off+int(l) > len(data) {
		return nil, 0, fmt.Errorf("codec: truncated field")
	}
	return data[off : off+int(l)], off + int(l), nil
}

// Registry resolves a codec by id, used when a configured codec_id must
// be matched against an implementation at open time.
var Registry = map[string]Codec{
	"identity": Identity{},
}

// Lookup returns the codec registered under id, or ok=false if none is.
func Lookup(id string) (Codec, bool) {
	c, ok := Registry[id]
	return c, ok
}
