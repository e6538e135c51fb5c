package keyspace

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKeyTooLong(t *testing.T) {
	lim := DefaultLimits()
	lim.MaxKeyBytes = 20
	k := New(uuid.New(), TypeKV, []byte(strings.Repeat("x", 100)))

	err := lim.ValidateKey(k)
	require.Error(t, err)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonKeyTooLong, le.Reason)
}

func TestValidateKeyRejectsNulByte(t *testing.T) {
	lim := DefaultLimits()
	k := New(uuid.New(), TypeKV, []byte("bad\x00key"))

	err := lim.ValidateKey(k)
	require.Error(t, err)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonInvalidKey, le.Reason)
}

func TestValidateKeyRejectsReservedPrefix(t *testing.T) {
	lim := DefaultLimits()
	k := New(uuid.New(), TypeKV, []byte("__strata_internal"))

	err := lim.ValidateKey(k)
	require.Error(t, err)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonInvalidKey, le.Reason)
}

func TestValidateValueTooLarge(t *testing.T) {
	lim := DefaultLimits()
	lim.MaxStringBytes = 4
	v := String("way too long for the limit")

	err := lim.ValidateValue(v)
	require.Error(t, err)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonValueTooLarge, le.Reason)
}

func TestValidateValueNestingTooDeep(t *testing.T) {
	lim := DefaultLimits()
	lim.MaxNestingDepth = 2

	v := Array([]Value{Array([]Value{Array([]Value{I64(1)})})})

	err := lim.ValidateValue(v)
	require.Error(t, err)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonNestingTooDeep, le.Reason)
}

func TestValidateValueArrayTooLong(t *testing.T) {
	lim := DefaultLimits()
	lim.MaxArrayLen = 2
	v := Array([]Value{I64(1), I64(2), I64(3)})

	err := lim.ValidateValue(v)
	require.Error(t, err)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonValueTooLarge, le.Reason)
}

func TestValidateValueWithinLimitsPasses(t *testing.T) {
	lim := DefaultLimits()
	v := Object(map[string]Value{"a": I64(1), "b": String("ok")})
	assert.NoError(t, lim.ValidateValue(v))
}

func TestValidateVectorDim(t *testing.T) {
	lim := DefaultLimits()
	lim.MaxVectorDim = 128

	assert.NoError(t, lim.ValidateVectorDim(64, 0))
	assert.NoError(t, lim.ValidateVectorDim(64, 64))

	err := lim.ValidateVectorDim(256, 0)
	require.Error(t, err)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonVectorDimExceeded, le.Reason)

	err = lim.ValidateVectorDim(64, 32)
	require.Error(t, err)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonVectorDimMismatch, le.Reason)
}
