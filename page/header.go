// Package page decodes SQLite's on-disk page formats: the 100-byte
// database header, b-tree page headers and cells (table/index,
// leaf/interior), freeblocks, the unallocated region, freelist
// trunk/leaf pages, pointer-map pages, and overflow-page chains
// (component C2 of the recovery engine).
package page

import (
	"encoding/binary"

	"github.com/sqlitedissect/dissect/dissecterr"
)

// HeaderSize is the fixed size of the database header at the start of
// page 1.
const HeaderSize = 100

const magic = "SQLite format 3\x00"

// TextEncoding identifies the database's text encoding, per the
// header's text-encoding field.
type TextEncoding uint32

const (
	TextEncodingUTF8    TextEncoding = 1
	TextEncodingUTF16LE TextEncoding = 2
	TextEncodingUTF16BE TextEncoding = 3
)

// DatabaseHeader is the decoded 100-byte file header found at the
// start of page 1.
type DatabaseHeader struct {
	PageSize            int
	FileFormatWrite     uint8
	FileFormatRead      uint8
	ReservedPerPage     uint8
	MaxEmbeddedPayload  uint8
	MinEmbeddedPayload  uint8
	LeafPayloadFraction uint8
	ChangeCounter       uint32
	SizeInPages         uint32
	FirstFreelistTrunk  uint32
	FreelistPageCount   uint32
	SchemaCookie        uint32
	SchemaFormat        uint32
	DefaultCacheSize    uint32
	LargestRootBTree    uint32 // non-zero only in incremental-vacuum mode
	TextEncoding        TextEncoding
	UserVersion         uint32
	IncrementalVacuum   uint32
	ApplicationID       uint32
	VersionValidFor     uint32
	SQLiteVersionNumber uint32
}

// DecodeHeader parses the 100-byte database header. strict enables
// two additional checks: the embedded-payload fractions must be 64
// and 32, and the text encoding must be 1, 2 or 3. The reserved
// bytes and the size fields are not checked in either mode. In
// lenient mode the strict checks are skipped so a damaged header
// doesn't abort recovery.
func DecodeHeader(data []byte, strict bool) (DatabaseHeader, error) {
	if len(data) < HeaderSize {
		return DatabaseHeader{}, dissecterr.New(dissecterr.KindHeaderParsing, "decode_header", "file shorter than header").
			WithContext(map[string]any{"len": len(data)})
	}
	if string(data[0:16]) != magic {
		return DatabaseHeader{}, dissecterr.New(dissecterr.KindHeaderParsing, "decode_header", "bad magic number").
			WithContext(map[string]any{"got": string(data[0:16])})
	}

	rawPageSize := binary.BigEndian.Uint16(data[16:18])
	pageSize := int(rawPageSize)
	if rawPageSize == 1 {
		pageSize = 65536
	}
	if pageSize < 512 || pageSize > 65536 || pageSize&(pageSize-1) != 0 {
		return DatabaseHeader{}, dissecterr.New(dissecterr.KindHeaderParsing, "decode_header", "invalid page size").
			WithContext(map[string]any{"page_size": pageSize})
	}

	h := DatabaseHeader{
		PageSize:            pageSize,
		FileFormatWrite:     data[18],
		FileFormatRead:      data[19],
		ReservedPerPage:     data[20],
		MaxEmbeddedPayload:  data[21],
		MinEmbeddedPayload:  data[22],
		LeafPayloadFraction: data[23],
		ChangeCounter:       binary.BigEndian.Uint32(data[24:28]),
		SizeInPages:         binary.BigEndian.Uint32(data[28:32]),
		FirstFreelistTrunk:  binary.BigEndian.Uint32(data[32:36]),
		FreelistPageCount:   binary.BigEndian.Uint32(data[36:40]),
		SchemaCookie:        binary.BigEndian.Uint32(data[40:44]),
		SchemaFormat:        binary.BigEndian.Uint32(data[44:48]),
		DefaultCacheSize:    binary.BigEndian.Uint32(data[48:52]),
		LargestRootBTree:    binary.BigEndian.Uint32(data[52:56]),
		TextEncoding:        TextEncoding(binary.BigEndian.Uint32(data[56:60])),
		UserVersion:         binary.BigEndian.Uint32(data[60:64]),
		IncrementalVacuum:   binary.BigEndian.Uint32(data[64:68]),
		ApplicationID:       binary.BigEndian.Uint32(data[68:72]),
		VersionValidFor:     binary.BigEndian.Uint32(data[92:96]),
		SQLiteVersionNumber: binary.BigEndian.Uint32(data[96:100]),
	}

	if strict {
		if h.MaxEmbeddedPayload != 64 || h.MinEmbeddedPayload != 32 {
			return DatabaseHeader{}, dissecterr.New(dissecterr.KindHeaderParsing, "decode_header", "non-standard embedded-payload fractions").
				WithContext(map[string]any{"max": h.MaxEmbeddedPayload, "min": h.MinEmbeddedPayload})
		}
		switch h.TextEncoding {
		case TextEncodingUTF8, TextEncodingUTF16LE, TextEncodingUTF16BE:
		default:
			return DatabaseHeader{}, dissecterr.New(dissecterr.KindHeaderParsing, "decode_header", "invalid text encoding").
				WithContext(map[string]any{"text_encoding": h.TextEncoding})
		}
	}

	return h, nil
}

// UsablePageSize returns the page size minus the per-page reserved
// region at the tail (used for encryption extensions; normally 0).
func (h DatabaseHeader) UsablePageSize() int {
	return h.PageSize - int(h.ReservedPerPage)
}
