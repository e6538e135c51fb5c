package keyspace

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEncodeDecodeRoundTrip(t *testing.T) {
	branch := uuid.New()
	k := New(branch, TypeKV, []byte("orders/42"))

	encoded := k.Encode()
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, k.Namespace.BranchID, decoded.Namespace.BranchID)
	assert.Equal(t, k.Type, decoded.Type)
	assert.Equal(t, k.UserKey, decoded.UserKey)
}

func TestKeyCompareOrdersByBranchThenTypeThenUserKey(t *testing.T) {
	lo := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	hi := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	a := New(lo, TypeKV, []byte("a"))
	b := New(hi, TypeKV, []byte("a"))
	assert.Negative(t, Compare(a, b))

	c := New(lo, TypeKV, []byte("a"))
	d := New(lo, TypeEvent, []byte("a"))
	assert.Negative(t, Compare(c, d))

	e := New(lo, TypeKV, []byte("a"))
	f := New(lo, TypeKV, []byte("b"))
	assert.Negative(t, Compare(e, f))

	assert.Zero(t, Compare(a, a))
}

func TestKeyHasPrefix(t *testing.T) {
	branch := uuid.New()
	k := New(branch, TypeKV, []byte("orders/42/line-items"))

	assert.True(t, HasPrefix(k, branch, TypeKV, []byte("orders/42")))
	assert.False(t, HasPrefix(k, branch, TypeKV, []byte("orders/43")))
	assert.False(t, HasPrefix(k, branch, TypeEvent, []byte("orders/42")))
	assert.False(t, HasPrefix(k, uuid.New(), TypeKV, []byte("orders/42")))
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewCopiesUserKey(t *testing.T) {
	branch := uuid.New()
	src := []byte("mutable")
	k := New(branch, TypeKV, src)
	src[0] = 'X'
	assert.Equal(t, "mutable", string(k.UserKey))
}
