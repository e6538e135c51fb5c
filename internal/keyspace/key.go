// Package keyspace defines the key and value model shared by every
// primitive built on top of the storage core: namespaces, type tags,
// tagged value variants, and the size limits enforced on every write.
package keyspace

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// TypeTag identifies the primitive family a key belongs to. Tags are
// stable bytes baked into the serialized key ordering; the set is closed
// and new primitives must be given a tag here before they can store data.
type TypeTag byte

const (
	TypeBranch TypeTag = 0x05
	TypeKV     TypeTag = 0x10
	TypeEvent  TypeTag = 0x20
	TypeState  TypeTag = 0x30
	TypeJSON   TypeTag = 0x40
	TypeSpace  TypeTag = 0x50
	TypeVector TypeTag = 0x70
)

func (t TypeTag) String() string {
	switch t {
	case TypeBranch:
		return "branch"
	case TypeKV:
		return "kv"
	case TypeEvent:
		return "event"
	case TypeState:
		return "state"
	case TypeJSON:
		return "json"
	case TypeSpace:
		return "space"
	case TypeVector:
		return "vector"
	default:
		return fmt.Sprintf("tag(0x%02x)", byte(t))
	}
}

// GlobalBranchID is the all-zero branch id reserved for the branch index.
// Ordinary KV/Event/State/JSON/Vector traffic must not be routed here.
var GlobalBranchID uuid.UUID

// Namespace carries the 16-byte branch identifier, which participates in
// key ordering. It has no tenant/app/agent fields: any further
// partitioning of a branch's keyspace has to be carried inside UserKey.
type Namespace struct {
	BranchID uuid.UUID
}

// IsGlobal reports whether this namespace is the reserved all-zero branch
// used only by the branch index.
func (n Namespace) IsGlobal() bool {
	return n.BranchID == GlobalBranchID
}

// Key is the total-ordered triple (namespace, type_tag, user_key). The
// store sorts and scans by the lexicographic order over
// (branch_id bytes, type_tag byte, user_key bytes).
type Key struct {
	Namespace Namespace
	Type      TypeTag
	UserKey   []byte
}

// New constructs a Key, copying UserKey so the caller's buffer can be
// reused or mutated afterward.
func New(branch uuid.UUID, tag TypeTag, userKey []byte) Key {
	uk := make([]byte, len(userKey))
	copy(uk, userKey)
	return Key{Namespace: Namespace{BranchID: branch}, Type: tag, UserKey: uk}
}

// Encode serializes the key into its ordering-preserving byte form:
// branch id (16 bytes) | type tag (1 byte) | user key (variable).
func (k Key) Encode() []byte {
	buf := make([]byte, 16+1+len(k.UserKey))
	copy(buf[0:16], k.Namespace.BranchID[:])
	buf[16] = byte(k.Type)
	copy(buf[17:], k.UserKey)
	return buf
}

// EncodeString is a convenience wrapper for map-keying; it is not a public
// wire format and callers must not depend on its shape beyond ordering.
func (k Key) EncodeString() string {
	return string(k.Encode())
}

// Decode parses bytes produced by Encode back into a Key.
func Decode(b []byte) (Key, error) {
	if len(b) < 17 {
		return Key{}, fmt.Errorf("keyspace: encoded key too short (%d bytes)", len(b))
	}
	var branch uuid.UUID
	copy(branch[:], b[0:16])
	tag := TypeTag(b[16])
	userKey := make([]byte, len(b)-17)
	copy(userKey, b[17:])
	return Key{Namespace: Namespace{BranchID: branch}, Type: tag, UserKey: userKey}, nil
}

// Compare implements the total order over keys: lexicographic over
// (branch_id bytes, type_tag byte, user_key bytes).
func Compare(a, b Key) int {
	if c := bytes.Compare(a.Namespace.BranchID[:], b.Namespace.BranchID[:]); c != 0 {
		return c
	}
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.UserKey, b.UserKey)
}

// HasPrefix reports whether k's encoded form starts with the given
// (branch, type, user-key-prefix) triple - the predicate ScanPrefix
// applies against chain heads.
func HasPrefix(k Key, branch uuid.UUID, tag TypeTag, prefix []byte) bool {
	if k.Namespace.BranchID != branch || k.Type != tag {
		return false
	}
	return bytes.HasPrefix(k.UserKey, prefix)
}
