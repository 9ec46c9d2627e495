package page_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/varint"
)

func buildHeader(pageSize uint16) []byte {
	h := make([]byte, page.HeaderSize)
	copy(h[0:16], "SQLite format 3\x00")
	binary.BigEndian.PutUint16(h[16:18], pageSize)
	h[18], h[19] = 1, 1 // file format write/read
	h[21], h[22], h[23] = 64, 32, 32
	binary.BigEndian.PutUint32(h[56:60], 1) // utf-8
	return h
}

func TestDecodeHeaderValid(t *testing.T) {
	data := buildHeader(4096)
	h, err := page.DecodeHeader(data, true)
	require.NoError(t, err)
	require.Equal(t, 4096, h.PageSize)
	require.Equal(t, page.TextEncodingUTF8, h.TextEncoding)
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	data := buildHeader(4096)
	data[0] = 'X'
	_, err := page.DecodeHeader(data, true)
	require.Error(t, err)
}

func TestDecodeHeaderPageSize1Means65536(t *testing.T) {
	data := buildHeader(1)
	h, err := page.DecodeHeader(data, true)
	require.NoError(t, err)
	require.Equal(t, 65536, h.PageSize)
}

func buildTableLeafPage(pageSize int, rows [][]byte) []byte {
	data := make([]byte, pageSize)
	data[0] = 0x0D // table leaf
	binary.BigEndian.PutUint16(data[3:5], uint16(len(rows)))

	contentStart := pageSize
	ptrs := make([]uint16, len(rows))
	for i, row := range rows {
		contentStart -= len(row)
		copy(data[contentStart:], row)
		ptrs[i] = uint16(contentStart)
	}
	binary.BigEndian.PutUint16(data[5:7], uint16(contentStart))

	for i, p := range ptrs {
		off := 8 + i*2
		binary.BigEndian.PutUint16(data[off:off+2], p)
	}
	return data
}

func buildTableLeafCell(rowid int64, payload []byte) []byte {
	var cell []byte
	cell = append(cell, varint.Encode(int64(len(payload)))...)
	cell = append(cell, varint.Encode(rowid)...)
	cell = append(cell, payload...)
	return cell
}

func TestDecodeBTreeHeaderAndCells(t *testing.T) {
	payload := []byte{0x02, 0x01, 42} // header_size=2, serial 1 (int8), value 42
	cell := buildTableLeafCell(7, payload)
	data := buildTableLeafPage(512, [][]byte{cell})

	h, err := page.DecodeBTreeHeader(data, 0)
	require.NoError(t, err)
	require.Equal(t, page.KindTableLeaf, h.Kind)
	require.EqualValues(t, 1, h.CellCount)
	require.True(t, h.IsLeaf())
	require.False(t, h.IsInterior())

	ptrs, err := page.CellPointers(data, 0, h)
	require.NoError(t, err)
	require.Len(t, ptrs, 1)

	c, err := page.DecodeCell(data, ptrs[0], h, 512)
	require.NoError(t, err)
	require.EqualValues(t, 7, c.RowID)
	require.False(t, c.HasOverflow)
	require.Equal(t, payload, c.Payload)
}

func TestUnallocatedRange(t *testing.T) {
	cell := buildTableLeafCell(1, []byte{0x01, 0x08})
	data := buildTableLeafPage(512, [][]byte{cell})
	h, err := page.DecodeBTreeHeader(data, 0)
	require.NoError(t, err)

	start, end := page.UnallocatedRange(data, 0, h)
	require.Equal(t, 8+2, start) // header(8) + one cell pointer(2)
	require.Less(t, start, end)
}

func TestFreeblocksChain(t *testing.T) {
	data := buildTableLeafPage(512, nil)
	binary.BigEndian.PutUint16(data[1:3], 100) // first freeblock at offset 100
	binary.BigEndian.PutUint16(data[100:102], 0)
	binary.BigEndian.PutUint16(data[102:104], 20) // size 20, no next

	h, err := page.DecodeBTreeHeader(data, 0)
	require.NoError(t, err)
	blocks, err := page.Freeblocks(data, h)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, 20, blocks[0].Size)
}

func TestFreeblocksDetectsCycle(t *testing.T) {
	data := buildTableLeafPage(512, nil)
	binary.BigEndian.PutUint16(data[1:3], 100)
	binary.BigEndian.PutUint16(data[100:102], 100) // points to itself
	binary.BigEndian.PutUint16(data[102:104], 10)

	h, err := page.DecodeBTreeHeader(data, 0)
	require.NoError(t, err)
	_, err = page.Freeblocks(data, h)
	require.Error(t, err)
}

func TestDecodeFreelistTrunk(t *testing.T) {
	data := make([]byte, 512)
	binary.BigEndian.PutUint32(data[0:4], 9)
	binary.BigEndian.PutUint32(data[4:8], 2)
	binary.BigEndian.PutUint32(data[8:12], 100)
	binary.BigEndian.PutUint32(data[12:16], 101)

	trunk, err := page.DecodeFreelistTrunk(data)
	require.NoError(t, err)
	require.EqualValues(t, 9, trunk.NextTrunk)
	require.Equal(t, []uint32{100, 101}, trunk.LeafPages)
}

func TestPointerMapPageFor(t *testing.T) {
	mapPage, isMap := page.PointerMapPageFor(2, 512)
	require.True(t, isMap)
	require.EqualValues(t, 2, mapPage)

	mapPage, isMap = page.PointerMapPageFor(3, 512)
	require.False(t, isMap)
	require.EqualValues(t, 2, mapPage)
}
