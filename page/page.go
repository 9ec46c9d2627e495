package page

import (
	"encoding/binary"

	"github.com/sqlitedissect/dissect/dissecterr"
)

// Kind tags the structural role a page plays. It replaces the
// teacher's type-switch-on-byte approach with an explicit enum that
// also covers pages the b-tree type byte alone can't describe
// (freelist, pointer-map, overflow, lock-byte).
type Kind int

const (
	KindTableLeaf Kind = iota
	KindTableInterior
	KindIndexLeaf
	KindIndexInterior
	KindOverflow
	KindFreelistTrunk
	KindFreelistLeaf
	KindPointerMap
	KindLockByte
)

func (k Kind) String() string {
	switch k {
	case KindTableLeaf:
		return "table_leaf"
	case KindTableInterior:
		return "table_interior"
	case KindIndexLeaf:
		return "index_leaf"
	case KindIndexInterior:
		return "index_interior"
	case KindOverflow:
		return "overflow"
	case KindFreelistTrunk:
		return "freelist_trunk"
	case KindFreelistLeaf:
		return "freelist_leaf"
	case KindPointerMap:
		return "pointer_map"
	case KindLockByte:
		return "lock_byte"
	default:
		return "unknown"
	}
}

// btree page type byte values, per the format.
const (
	typeIndexInterior = 0x02
	typeTableInterior = 0x05
	typeIndexLeaf     = 0x0A
	typeTableLeaf     = 0x0D
)

// IsBTreeType reports whether b denotes a valid b-tree page type byte.
func IsBTreeType(b byte) bool {
	switch b {
	case typeIndexInterior, typeTableInterior, typeIndexLeaf, typeTableLeaf:
		return true
	default:
		return false
	}
}

// BTreeKindOf maps a page-type byte to its Kind. Callers must have
// already checked IsBTreeType.
func BTreeKindOf(b byte) Kind {
	switch b {
	case typeIndexInterior:
		return KindIndexInterior
	case typeTableInterior:
		return KindTableInterior
	case typeIndexLeaf:
		return KindIndexLeaf
	default:
		return KindTableLeaf
	}
}

// Header is a decoded b-tree page header (8 bytes for leaf pages, 12
// for interior pages — the rightmost-pointer field only exists on
// interior pages).
type Header struct {
	Kind                Kind
	FirstFreeblock      uint16
	CellCount           uint16
	CellContentStart    uint32 // 0 in the header means 65536
	FragmentedFreeBytes uint8
	RightmostPointer    uint32 // interior pages only
	HeaderSize          int    // 8 or 12
}

// IsInterior reports whether this page kind has child pointers.
func (h Header) IsInterior() bool {
	return h.Kind == KindTableInterior || h.Kind == KindIndexInterior
}

// IsLeaf reports whether this page kind holds actual row/index cells
// directly.
func (h Header) IsLeaf() bool {
	return h.Kind == KindTableLeaf || h.Kind == KindIndexLeaf
}

// DecodeBTreeHeader parses a b-tree page header. headerOffset is the
// byte offset of the header within data: 0 for every page except page
// 1, where it is HeaderSize (100) because the database header
// precedes it.
func DecodeBTreeHeader(data []byte, headerOffset int) (Header, error) {
	if headerOffset+8 > len(data) {
		return Header{}, dissecterr.New(dissecterr.KindBTreePageParsing, "decode_btree_header", "page too short for header").
			WithContext(map[string]any{"offset": headerOffset, "len": len(data)})
	}
	typeByte := data[headerOffset]
	if !IsBTreeType(typeByte) {
		return Header{}, dissecterr.New(dissecterr.KindBTreePageParsing, "decode_btree_header", "unrecognized page type byte").
			WithContext(map[string]any{"type_byte": typeByte, "offset": headerOffset})
	}
	kind := BTreeKindOf(typeByte)

	h := Header{
		Kind:                kind,
		FirstFreeblock:      binary.BigEndian.Uint16(data[headerOffset+1 : headerOffset+3]),
		CellCount:           binary.BigEndian.Uint16(data[headerOffset+3 : headerOffset+5]),
		CellContentStart:    uint32(binary.BigEndian.Uint16(data[headerOffset+5 : headerOffset+7])),
		FragmentedFreeBytes: data[headerOffset+7],
		HeaderSize:          8,
	}
	if h.CellContentStart == 0 {
		h.CellContentStart = 65536
	}

	if h.IsInterior() {
		if headerOffset+12 > len(data) {
			return Header{}, dissecterr.New(dissecterr.KindBTreePageParsing, "decode_btree_header", "page too short for interior header").
				WithContext(map[string]any{"offset": headerOffset})
		}
		h.RightmostPointer = binary.BigEndian.Uint32(data[headerOffset+8 : headerOffset+12])
		h.HeaderSize = 12
	}

	return h, nil
}

// CellPointers reads the cell-pointer array immediately following the
// page header and returns each pointer as an absolute offset into
// data.
func CellPointers(data []byte, headerOffset int, header Header) ([]int, error) {
	arrayStart := headerOffset + header.HeaderSize
	need := arrayStart + int(header.CellCount)*2
	if need > len(data) {
		return nil, dissecterr.New(dissecterr.KindBTreePageParsing, "cell_pointers", "cell pointer array overruns page").
			WithContext(map[string]any{"cell_count": header.CellCount, "len": len(data)})
	}
	ptrs := make([]int, header.CellCount)
	for i := 0; i < int(header.CellCount); i++ {
		off := arrayStart + i*2
		ptrs[i] = int(binary.BigEndian.Uint16(data[off : off+2]))
	}
	return ptrs, nil
}

// UnallocatedRange reports the [start, end) byte range between the
// cell-pointer array and the start of cell content — the primary
// target for the carver's unallocated-space scan.
func UnallocatedRange(data []byte, headerOffset int, header Header) (start, end int) {
	start = headerOffset + header.HeaderSize + int(header.CellCount)*2
	end = int(header.CellContentStart)
	if end > len(data) {
		end = len(data)
	}
	if end < start {
		end = start
	}
	return start, end
}
