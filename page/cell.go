package page

import (
	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/varint"
)

// PageSource fetches the raw bytes of another page by page number (1-
// based), used to walk overflow chains and interior-page children.
// sqlitefile.Database and version.History views each supply their own
// implementation.
type PageSource func(pageNumber uint32) ([]byte, error)

// Cell is one decoded b-tree cell. Which fields are populated depends
// on Kind: table cells carry RowID and a record; index cells carry a
// Payload (the index's own record, embedding the rowid as a trailing
// column) and no RowID; interior cells carry a child pointer, plus a
// rowid key for table interior cells or a Payload for index interior
// cells.
type Cell struct {
	Kind            Kind
	Offset          int // absolute offset of the cell in its page
	LeftChildPage   uint32
	RowID           int64
	PayloadSize     int64
	Payload         []byte // local portion only; overflow not followed unless FullPayload is used
	OverflowPage    uint32
	HasOverflow     bool
	RecordHeader    varint.RecordHeader
	RecordTruncated bool
}

// DecodeCell decodes the cell at offset within data, given the page's
// header and usable page size (for local-payload-size computation).
func DecodeCell(data []byte, offset int, header Header, usablePageSize int) (Cell, error) {
	c := Cell{Kind: header.Kind, Offset: offset}
	pos := offset

	if header.Kind == KindTableInterior {
		if pos+4 > len(data) {
			return Cell{}, cellErr("table interior cell truncated", offset)
		}
		c.LeftChildPage = be32(data[pos : pos+4])
		pos += 4
		rowid, n, err := varint.Decode(data, pos)
		if err != nil {
			return Cell{}, dissecterr.Wrap(dissecterr.KindCellParsing, "decode_cell", err)
		}
		c.RowID = rowid
		pos += n
		return c, nil
	}

	if header.Kind == KindIndexInterior {
		if pos+4 > len(data) {
			return Cell{}, cellErr("index interior cell truncated", offset)
		}
		c.LeftChildPage = be32(data[pos : pos+4])
		pos += 4
	}

	payloadSize, n, err := varint.Decode(data, pos)
	if err != nil {
		return Cell{}, dissecterr.Wrap(dissecterr.KindCellParsing, "decode_cell", err)
	}
	c.PayloadSize = payloadSize
	pos += n

	if header.Kind == KindTableLeaf {
		rowid, n, err := varint.Decode(data, pos)
		if err != nil {
			return Cell{}, dissecterr.Wrap(dissecterr.KindCellParsing, "decode_cell", err)
		}
		c.RowID = rowid
		pos += n
	}

	localSize := localPayloadSize(payloadSize, header.Kind, usablePageSize)
	if pos+int(localSize) > len(data) {
		localSize = int64(len(data) - pos)
		if localSize < 0 {
			localSize = 0
		}
	}
	c.Payload = data[pos : pos+int(localSize)]
	pos += int(localSize)

	if int64(localSize) < payloadSize {
		c.HasOverflow = true
		if pos+4 <= len(data) {
			c.OverflowPage = be32(data[pos : pos+4])
		}
	}

	if header.Kind == KindTableLeaf || header.Kind == KindIndexLeaf || header.Kind == KindIndexInterior {
		if recordHeader, _, err := varint.DecodeRecordHeader(c.Payload, 0); err == nil {
			c.RecordHeader = recordHeader
		} else {
			c.RecordTruncated = true
		}
	}

	return c, nil
}

// FullPayload returns the cell's complete payload, following the
// overflow chain via source when necessary. maxChain bounds the walk
// against corrupt circular chains.
func (c Cell) FullPayload(source PageSource, usablePageSize, maxChain int) ([]byte, error) {
	if !c.HasOverflow {
		return c.Payload, nil
	}
	out := append([]byte{}, c.Payload...)
	next := c.OverflowPage
	remaining := int(c.PayloadSize) - len(c.Payload)

	for i := 0; next != 0 && remaining > 0; i++ {
		if i >= maxChain {
			return nil, dissecterr.New(dissecterr.KindCellParsing, "full_payload", "overflow chain exceeded max length").
				WithContext(map[string]any{"max_chain": maxChain})
		}
		page, err := source(next)
		if err != nil {
			return nil, dissecterr.Wrap(dissecterr.KindCellParsing, "full_payload", err)
		}
		if len(page) < 4 {
			return nil, dissecterr.New(dissecterr.KindCellParsing, "full_payload", "overflow page too short")
		}
		next = be32(page[0:4])
		chunk := page[4:]
		if len(chunk) > usablePageSize-4 {
			chunk = chunk[:usablePageSize-4]
		}
		if remaining < len(chunk) {
			chunk = chunk[:remaining]
		}
		out = append(out, chunk...)
		remaining -= len(chunk)
	}

	return out, nil
}

// localPayloadSize computes how much of a cell's payload is stored
// in-page before overflow, per the three embedded-fraction formulas
// the format defines for table leaf, index leaf, and index interior
// cells (table interior cells never carry a payload).
func localPayloadSize(payloadSize int64, kind Kind, usablePageSize int) int64 {
	u := int64(usablePageSize)
	maxLocal := u - 35
	if kind == KindTableLeaf {
		if payloadSize <= maxLocal {
			return payloadSize
		}
		minLocal := (u-12)*32/255 - 23
		k := minLocal + (payloadSize-minLocal)%(u-4)
		if k <= maxLocal {
			return k
		}
		return minLocal
	}

	// Index leaf / index interior cells: max local payload is
	// ((u-12)*64/255)-23, not the u-35 that table leaf cells use.
	maxLocalIdx := (u-12)*64/255 - 23
	if payloadSize <= maxLocalIdx {
		return payloadSize
	}
	minLocal := (u-12)*32/255 - 23
	k := minLocal + (payloadSize-minLocal)%(u-4)
	if k <= maxLocalIdx {
		return k
	}
	return minLocal
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func cellErr(msg string, offset int) error {
	return dissecterr.New(dissecterr.KindCellParsing, "decode_cell", msg).
		WithContext(map[string]any{"offset": offset})
}
