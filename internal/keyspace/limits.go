package keyspace

import "fmt"

// Limits fixes the size and shape bounds enforced on every write at
// database open. Validation is recursive over arrays/objects and fails
// fast with a typed LimitError.
type Limits struct {
	MaxKeyBytes          int
	MaxStringBytes       int
	MaxBytesLen          int
	MaxValueBytesEncoded int
	MaxArrayLen          int
	MaxObjectEntries     int
	MaxNestingDepth      int
	MaxVectorDim         int
}

// DefaultLimits mirrors spec.md §3's defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxKeyBytes:          1024,
		MaxStringBytes:       16 * 1024 * 1024,
		MaxBytesLen:          16 * 1024 * 1024,
		MaxValueBytesEncoded: 32 * 1024 * 1024,
		MaxArrayLen:          1_000_000,
		MaxObjectEntries:     1_000_000,
		MaxNestingDepth:      128,
		MaxVectorDim:         8192,
	}
}

// Reason is a stable error code identifying the kind of limit violated.
type Reason string

const (
	ReasonKeyTooLong        Reason = "key_too_long"
	ReasonValueTooLarge     Reason = "value_too_large"
	ReasonNestingTooDeep    Reason = "nesting_too_deep"
	ReasonVectorDimExceeded Reason = "vector_dim_exceeded"
	ReasonVectorDimMismatch Reason = "vector_dim_mismatch"
	ReasonInvalidKey        Reason = "invalid_key"
)

// LimitError is returned synchronously before any write is buffered; it
// never reaches disk.
type LimitError struct {
	Reason  Reason
	Message string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Code returns the stable reason code, satisfying the §7 error taxonomy
// convention that every kind maps to a stable reason code.
func (e *LimitError) Code() string { return string(e.Reason) }

func limitErr(reason Reason, format string, args ...interface{}) *LimitError {
	return &LimitError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// reservedPrefixes are user-key prefixes primitives must not use directly;
// they are carved out for internal bookkeeping keys (e.g. branch index
// metadata) that share a type tag's namespace.
var reservedPrefixes = [][]byte{
	[]byte("__strata_"),
}

// ValidateKey checks a key's user-key portion against NUL-byte and
// reserved-prefix rules, and the encoded key length against MaxKeyBytes.
func (l Limits) ValidateKey(k Key) error {
	encoded := k.Encode()
	if len(encoded) > l.MaxKeyBytes {
		return limitErr(ReasonKeyTooLong, "encoded key is %d bytes, limit is %d", len(encoded), l.MaxKeyBytes)
	}
	for _, b := range k.UserKey {
		if b == 0 {
			return limitErr(ReasonInvalidKey, "user key contains a NUL byte")
		}
	}
	for _, prefix := range reservedPrefixes {
		if hasBytesPrefix(k.UserKey, prefix) {
			return limitErr(ReasonInvalidKey, "user key uses reserved prefix %q", prefix)
		}
	}
	return nil
}

func hasBytesPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// ValidateValue recursively checks a value against the size and shape
// limits, then checks the encoded form against MaxValueBytesEncoded. This
// is the §8 round-trip law: validate_value(v) succeeds iff encode(v)
// produces a buffer within MaxValueBytesEncoded.
func (l Limits) ValidateValue(v Value) error {
	if err := l.validateShape(v, 0); err != nil {
		return err
	}
	encoded, err := v.Encode()
	if err != nil {
		return err
	}
	if len(encoded) > l.MaxValueBytesEncoded {
		return limitErr(ReasonValueTooLarge, "encoded value is %d bytes, limit is %d", len(encoded), l.MaxValueBytesEncoded)
	}
	return nil
}

func (l Limits) validateShape(v Value, depth int) error {
	if depth > l.MaxNestingDepth {
		return limitErr(ReasonNestingTooDeep, "nesting depth %d exceeds limit %d", depth, l.MaxNestingDepth)
	}
	switch v.Kind {
	case KindString:
		if len(v.Str) > l.MaxStringBytes {
			return limitErr(ReasonValueTooLarge, "string is %d bytes, limit is %d", len(v.Str), l.MaxStringBytes)
		}
	case KindBytes:
		if len(v.Bytes) > l.MaxBytesLen {
			return limitErr(ReasonValueTooLarge, "bytes value is %d bytes, limit is %d", len(v.Bytes), l.MaxBytesLen)
		}
	case KindArray:
		if len(v.Array) > l.MaxArrayLen {
			return limitErr(ReasonValueTooLarge, "array has %d elements, limit is %d", len(v.Array), l.MaxArrayLen)
		}
		for _, elem := range v.Array {
			if err := l.validateShape(elem, depth+1); err != nil {
				return err
			}
		}
	case KindObject:
		if len(v.Object) > l.MaxObjectEntries {
			return limitErr(ReasonValueTooLarge, "object has %d entries, limit is %d", len(v.Object), l.MaxObjectEntries)
		}
		for _, elem := range v.Object {
			if err := l.validateShape(elem, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateVectorDim checks a vector dimension against MaxVectorDim and,
// when expected is non-zero, against a required dimension - the vector
// primitive's monotone-dimension contract (see spec.md §6 and SPEC_FULL.md
// §5's supplemented-features note on primitives imposing invariants on
// the core).
func (l Limits) ValidateVectorDim(dim, expected int) error {
	if dim > l.MaxVectorDim {
		return limitErr(ReasonVectorDimExceeded, "vector dimension %d exceeds limit %d", dim, l.MaxVectorDim)
	}
	if expected != 0 && dim != expected {
		return limitErr(ReasonVectorDimMismatch, "vector dimension %d does not match collection dimension %d", dim, expected)
	}
	return nil
}
