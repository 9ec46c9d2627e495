package varint_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlitedissect/dissect/varint"
)

func TestRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, 127, 128, 129, 16383, 16384,
		0x10902873,
		math.MaxInt32,
		math.MinInt32,
		-1,
		math.MaxInt64,
		math.MinInt64,
	}
	for _, v := range values {
		encoded := varint.Encode(v)
		require.LessOrEqual(t, len(encoded), varint.MaxLen)
		got, n, err := varint.Decode(encoded, 0)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, len(encoded), n)
	}
}

func TestEncodeCanonicalLength(t *testing.T) {
	// Single-byte form for 0..127.
	require.Equal(t, []byte{0x00}, varint.Encode(0))
	require.Equal(t, []byte{0x7f}, varint.Encode(127))
	// 128 needs two bytes: high-bit set then low 7 bits.
	require.Len(t, varint.Encode(128), 2)
	// Negative values always take the full 9-byte form.
	require.Len(t, varint.Encode(-1), 9)
}

func TestDecodeTruncatedFails(t *testing.T) {
	_, _, err := varint.Decode([]byte{0x81}, 0)
	require.Error(t, err)
}

func TestDecodeReverseSimple(t *testing.T) {
	// A known 3-byte forward varint embedded with leading filler.
	encoded := varint.Encode(70000) // > 16383, needs 3 bytes
	require.Len(t, encoded, 3)

	buf := append([]byte{0x00, 0x00}, encoded...)
	end := len(buf)

	v, start, err := varint.DecodeReverse(buf, end, varint.MaxLen)
	require.NoError(t, err)
	require.Equal(t, uint64(70000), v)
	require.Equal(t, len(buf)-3, start)
}

func TestDecodeReverseSingleByte(t *testing.T) {
	buf := []byte{0x10, 0x42}
	v, start, err := varint.DecodeReverse(buf, 2, varint.MaxLen)
	require.NoError(t, err)
	require.Equal(t, uint64(0x42), v)
	require.Equal(t, 1, start)
}

func TestDecodeReverseRunsOffBuffer(t *testing.T) {
	buf := []byte{0x81, 0x81, 0x81}
	_, _, err := varint.DecodeReverse(buf, 3, varint.MaxLen)
	require.Error(t, err)
}
