package varint_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlitedissect/dissect/varint"
)

func TestContentSizeTable(t *testing.T) {
	cases := map[int64]int{0: 0, 1: 1, 2: 2, 3: 3, 4: 4, 5: 6, 6: 8, 7: 8, 8: 0, 9: 0, 12: 0, 13: 0, 14: 1, 15: 1}
	for st, want := range cases {
		got, err := varint.ContentSize(st)
		require.NoError(t, err)
		require.Equal(t, want, got, "serial type %d", st)
	}
}

func TestContentSizeReserved(t *testing.T) {
	for _, st := range []int64{10, 11, -1} {
		_, err := varint.ContentSize(st)
		require.Error(t, err)
	}
}

func TestSimplify(t *testing.T) {
	require.Equal(t, int64(3), varint.Simplify(3))
	require.Equal(t, int64(varint.BlobID), varint.Simplify(12))
	require.Equal(t, int64(varint.BlobID), varint.Simplify(100))
	require.Equal(t, int64(varint.TextID), varint.Simplify(13))
	require.Equal(t, int64(varint.TextID), varint.Simplify(101))
}

func buildRecord(serials []int64, payload [][]byte) []byte {
	var headerBody []byte
	for _, s := range serials {
		headerBody = append(headerBody, varint.Encode(s)...)
	}
	headerSizeField := varint.Encode(0) // placeholder, fixed below
	total := len(headerSizeField) + len(headerBody)
	for {
		hs := varint.Encode(int64(total))
		if len(hs) == len(headerSizeField) {
			headerSizeField = hs
			break
		}
		headerSizeField = hs
		total = len(headerSizeField) + len(headerBody)
	}
	out := append([]byte{}, headerSizeField...)
	out = append(out, headerBody...)
	for _, p := range payload {
		out = append(out, p...)
	}
	return out
}

func TestDecodeRecordRoundTrip(t *testing.T) {
	serials := []int64{1, 13 + 2*3, 7} // int8, TEXT(3 bytes), float64
	text := []byte("abc")
	floatBytes := make([]byte, 8)
	bits := math.Float64bits(3.5)
	for i := 0; i < 8; i++ {
		floatBytes[7-i] = byte(bits)
		bits >>= 8
	}
	record := buildRecord(serials, [][]byte{{42}, text, floatBytes})

	header, bodyOffset, err := varint.DecodeRecordHeader(record, 0)
	require.NoError(t, err)
	require.Equal(t, serials, header.SerialTypes)

	values, truncated, err := varint.DecodeRecordBody(record, bodyOffset, header)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Len(t, values, 3)

	require.Equal(t, varint.KindInteger, values[0].Kind)
	require.EqualValues(t, 42, values[0].Integer)

	require.Equal(t, varint.KindText, values[1].Kind)
	require.Equal(t, "abc", string(values[1].Bytes))

	require.Equal(t, varint.KindFloat, values[2].Kind)
	require.InDelta(t, 3.5, values[2].Float, 0.0001)
}

func TestDecodeRecordBodyTruncated(t *testing.T) {
	serials := []int64{6} // int64, 8 bytes
	record := buildRecord(serials, [][]byte{{1, 2, 3}})
	header, bodyOffset, err := varint.DecodeRecordHeader(record, 0)
	require.NoError(t, err)

	values, truncated, err := varint.DecodeRecordBody(record, bodyOffset, header)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Empty(t, values)
}

func TestDecodeNegativeInteger(t *testing.T) {
	serials := []int64{1} // int8
	record := buildRecord(serials, [][]byte{{0xFF}}) // -1
	header, bodyOffset, err := varint.DecodeRecordHeader(record, 0)
	require.NoError(t, err)
	values, _, err := varint.DecodeRecordBody(record, bodyOffset, header)
	require.NoError(t, err)
	require.EqualValues(t, -1, values[0].Integer)
}
