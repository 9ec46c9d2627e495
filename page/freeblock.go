package page

import (
	"encoding/binary"

	"github.com/sqlitedissect/dissect/dissecterr"
)

// Freeblock is one link in a page's freeblock chain: a run of bytes
// within the cell-content area that once held a cell and has since
// been deleted, kept around only to be reused by future inserts. Its
// content is exactly the kind of recently-live data the carver looks
// for.
type Freeblock struct {
	Offset int
	Size   int
}

// maxFreeblockChain bounds the walk against a corrupt page whose
// freeblock chain cycles back on itself.
const maxFreeblockChain = 4096

// Freeblocks walks a b-tree page's freeblock chain starting at
// header.FirstFreeblock and returns each block found.
func Freeblocks(data []byte, header Header) ([]Freeblock, error) {
	var blocks []Freeblock
	offset := int(header.FirstFreeblock)
	seen := map[int]bool{}

	for offset != 0 {
		if seen[offset] {
			return nil, dissecterr.New(dissecterr.KindBTreePageParsing, "freeblocks", "freeblock chain cycles").
				WithContext(map[string]any{"offset": offset})
		}
		seen[offset] = true
		if len(blocks) > maxFreeblockChain {
			return nil, dissecterr.New(dissecterr.KindBTreePageParsing, "freeblocks", "freeblock chain too long")
		}
		if offset+4 > len(data) {
			return nil, dissecterr.New(dissecterr.KindBTreePageParsing, "freeblocks", "freeblock pointer out of range").
				WithContext(map[string]any{"offset": offset})
		}
		next := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		size := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		blocks = append(blocks, Freeblock{Offset: offset, Size: size})
		offset = next
	}

	return blocks, nil
}

// FreelistTrunk is a decoded freelist trunk page: a pointer to the
// next trunk page plus an array of leaf page numbers it owns.
type FreelistTrunk struct {
	NextTrunk uint32
	LeafPages []uint32
}

// DecodeFreelistTrunk parses a freelist trunk page. Unlike b-tree
// pages, freelist pages have no type byte; the caller identifies a
// page as a trunk by walking the header's freelist-trunk pointer
// chain, not by inspecting page content.
func DecodeFreelistTrunk(data []byte) (FreelistTrunk, error) {
	if len(data) < 8 {
		return FreelistTrunk{}, dissecterr.New(dissecterr.KindPageParsing, "decode_freelist_trunk", "page too short")
	}
	next := binary.BigEndian.Uint32(data[0:4])
	count := binary.BigEndian.Uint32(data[4:8])
	maxEntries := uint32(len(data)-8) / 4
	if count > maxEntries {
		return FreelistTrunk{}, dissecterr.New(dissecterr.KindPageParsing, "decode_freelist_trunk", "leaf count exceeds page capacity").
			WithContext(map[string]any{"count": count, "max": maxEntries})
	}
	leaves := make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		off := 8 + i*4
		leaves[i] = binary.BigEndian.Uint32(data[off : off+4])
	}
	return FreelistTrunk{NextTrunk: next, LeafPages: leaves}, nil
}

// PointerMapEntry is one (page type, parent page) mapping recorded on
// a pointer-map page, used only by auto-vacuum databases.
type PointerMapEntry struct {
	Type   byte
	Parent uint32
}

// Pointer-map entry type bytes.
const (
	PtrMapRootPage     = 1
	PtrMapFreePage     = 2
	PtrMapOverflow1    = 3
	PtrMapOverflow2    = 4
	PtrMapBTreeNonRoot = 5
)

// DecodePointerMap parses a pointer-map page: a flat array of 5-byte
// entries (1-byte type, 4-byte big-endian parent page number) with no
// other header.
func DecodePointerMap(data []byte) []PointerMapEntry {
	n := len(data) / 5
	entries := make([]PointerMapEntry, 0, n)
	for i := 0; i < n; i++ {
		off := i * 5
		t := data[off]
		if t == 0 {
			continue // zero-filled tail entries past the last real one
		}
		entries = append(entries, PointerMapEntry{
			Type:   t,
			Parent: binary.BigEndian.Uint32(data[off+1 : off+5]),
		})
	}
	return entries
}

// PointerMapPageFor returns the page number of the pointer-map page
// that covers dbPage, and true if dbPage is itself a pointer-map page
// rather than one it describes. pageSize is the usable page size;
// page 1 (the lock-byte/header page) is never covered by a pointer
// map.
func PointerMapPageFor(dbPage uint32, pageSize int) (mapPage uint32, isMapPage bool) {
	if dbPage <= 1 {
		return 0, false
	}
	entriesPerMap := uint32(pageSize / 5)
	// Page 2 is always the first pointer-map page.
	cycle := entriesPerMap + 1
	offsetInCycle := (dbPage - 2) % cycle
	firstOfCycle := dbPage - offsetInCycle
	if offsetInCycle == 0 {
		return dbPage, true
	}
	return firstOfCycle, false
}
