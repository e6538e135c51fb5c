package keyspace

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind tags the variant held by a Value.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindI64
	KindF64
	KindString
	KindBytes
	KindArray
	KindObject
)

// Value is the tagged sum every primitive stores through the core:
// Null | Bool | I64 | F64 | String | Bytes | Array | Object.
type Value struct {
	Kind   Kind
	Bool   bool
	I64    int64
	F64    float64
	Str    string
	Bytes  []byte
	Array  []Value
	Object map[string]Value
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func I64(v int64) Value          { return Value{Kind: KindI64, I64: v} }
func F64(v float64) Value        { return Value{Kind: KindF64, F64: v} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value       { return Value{Kind: KindBytes, Bytes: b} }
func Array(vs []Value) Value     { return Value{Kind: KindArray, Array: vs} }
func Object(m map[string]Value) Value {
	return Value{Kind: KindObject, Object: m}
}

// Encode produces the storage-codec-agnostic byte representation of a
// Value used to compute max_value_bytes_encoded and to feed the pluggable
// storage codec (internal/codec). The format is a simple self-describing
// TLV tree; it is not the WAL or snapshot wire format (those wrap this).
func (v Value) Encode() ([]byte, error) {
	var buf []byte
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeValue(buf *[]byte, v Value) error {
	*buf = append(*buf, byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindBool:
		if v.Bool {
			*buf = append(*buf, 1)
		} else {
			*buf = append(*buf, 0)
		}
	case KindI64:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.I64))
		*buf = append(*buf, tmp[:]...)
	case KindF64:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.F64))
		*buf = append(*buf, tmp[:]...)
	case KindString:
		appendLenPrefixed(buf, []byte(v.Str))
	case KindBytes:
		appendLenPrefixed(buf, v.Bytes)
	case KindArray:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(v.Array)))
		*buf = append(*buf, tmp[:]...)
		for _, elem := range v.Array {
			if err := encodeValue(buf, elem); err != nil {
				return err
			}
		}
	case KindObject:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(v.Object)))
		*buf = append(*buf, tmp[:]...)
		for k, elem := range v.Object {
			appendLenPrefixed(buf, []byte(k))
			if err := encodeValue(buf, elem); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("keyspace: unknown value kind %d", v.Kind)
	}
	return nil
}

func appendLenPrefixed(buf *[]byte, b []byte) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(b)))
	*buf = append(*buf, tmp[:]...)
	*buf = append(*buf, b...)
}

// DecodeValue parses bytes produced by Value.Encode, returning the value
// and the number of bytes consumed.
func DecodeValue(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, fmt.Errorf("keyspace: empty value buffer")
	}
	kind := Kind(b[0])
	off := 1
	switch kind {
	case KindNull:
		return Value{Kind: KindNull}, off, nil
	case KindBool:
		if off >= len(b) {
			return Value{}, 0, fmt.Errorf("keyspace: truncated bool value")
		}
		return Value{Kind: KindBool, Bool: b[off] != 0}, off + 1, nil
	case KindI64:
		if off+8 > len(b) {
			return Value{}, 0, fmt.Errorf("keyspace: truncated i64 value")
		}
		v := int64(binary.LittleEndian.Uint64(b[off : off+8]))
		return Value{Kind: KindI64, I64: v}, off + 8, nil
	case KindF64:
		if off+8 > len(b) {
			return Value{}, 0, fmt.Errorf("keyspace: truncated f64 value")
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))
		return Value{Kind: KindF64, F64: v}, off + 8, nil
	case KindString:
		s, n, err := readLenPrefixed(b[off:])
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindString, Str: string(s)}, off + n, nil
	case KindBytes:
		bs, n, err := readLenPrefixed(b[off:])
		if err != nil {
			return Value{}, 0, err
		}
		out := make([]byte, len(bs))
		copy(out, bs)
		return Value{Kind: KindBytes, Bytes: out}, off + n, nil
	case KindArray:
		if off+4 > len(b) {
			return Value{}, 0, fmt.Errorf("keyspace: truncated array length")
		}
		count := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		arr := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			elem, n, err := DecodeValue(b[off:])
			if err != nil {
				return Value{}, 0, err
			}
			arr = append(arr, elem)
			off += n
		}
		return Value{Kind: KindArray, Array: arr}, off, nil
	case KindObject:
		if off+4 > len(b) {
			return Value{}, 0, fmt.Errorf("keyspace: truncated object length")
		}
		count := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		obj := make(map[string]Value, count)
		for i := uint32(0); i < count; i++ {
			keyBytes, n, err := readLenPrefixed(b[off:])
			if err != nil {
				return Value{}, 0, err
			}
			off += n
			elem, n2, err := DecodeValue(b[off:])
			if err != nil {
				return Value{}, 0, err
			}
			obj[string(keyBytes)] = elem
			off += n2
		}
		return Value{Kind: KindObject, Object: obj}, off, nil
	default:
		return Value{}, 0, fmt.Errorf("keyspace: unknown value kind %d", kind)
	}
}

func readLenPrefixed(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("keyspace: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(b[:4])
	if uint32(len(b)-4) < n {
		return nil, 0, fmt.Errorf("keyspace: truncated length-prefixed payload")
	}
	return b[4 : 4+n], 4 + int(n), nil
}
