package dissect

import (
	"context"
	"regexp"

	"github.com/sqlitedissect/dissect/carve"
	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/schema"
	"github.com/sqlitedissect/dissect/signature"
)

// CarveTable scans every leaf page of table's b-tree — its
// unallocated region and every freeblock in its chain — for record
// fragments matching sig. Carving only ever targets table-leaf pages:
// index-cell carving beyond header recognition and WITHOUT ROWID
// tables are out of scope, and a table b-tree's interior pages never
// hold cell content to recover.
func CarveTable(ctx context.Context, source page.PageSource, usablePageSize int, table schema.Object, sig signature.Signature) ([]carve.Candidate, error) {
	leaves, err := page.LeafPageNumbers(ctx, source, uint32(table.RootPage), usablePageSize)
	if err != nil {
		return nil, err
	}

	fullRE, err := carve.CompileSignature(sig, false)
	if err != nil {
		return nil, err
	}
	var partialRE *regexp.Regexp
	if len(sig.Columns) >= 2 {
		partialRE, err = carve.CompileSignature(sig, true)
		if err != nil {
			return nil, err
		}
	}

	var out []carve.Candidate
	for _, pn := range leaves {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := source(pn)
		if err != nil {
			return nil, err
		}
		headerOffset := 0
		if pn == 1 {
			headerOffset = page.HeaderSize
		}
		header, err := page.DecodeBTreeHeader(data, headerOffset)
		if err != nil {
			continue
		}
		if header.Kind != page.KindTableLeaf {
			continue
		}

		start, end := page.UnallocatedRange(data, headerOffset, header)
		out = append(out, carve.Scan(data[start:end], pn, start, fullRE, sig)...)

		if partialRE == nil {
			continue
		}
		freeblocks, err := page.Freeblocks(data, header)
		if err != nil {
			continue
		}
		for _, fb := range freeblocks {
			out = append(out, carve.ScanFreeblock(fb, data, pn, fullRE, partialRE, sig)...)
		}
	}
	return out, nil
}

// CarveFreelist scans every page in the database's freelist (trunk and
// leaf pages alike) for record fragments matching sig, per the
// --carve-freelists CLI surface. A freelist page's entire content is
// treated as one opaque unallocated region, the same way the journal
// carver treats a journal page's pre-image content: once a page joins
// the freelist it carries no trusted b-tree structure of its own, only
// whatever row content survives from before it was freed.
func CarveFreelist(ctx context.Context, source page.PageSource, header page.DatabaseHeader, sig signature.Signature) ([]carve.Candidate, error) {
	fullRE, err := carve.CompileSignature(sig, false)
	if err != nil {
		return nil, err
	}

	var out []carve.Candidate
	trunk := header.FirstFreelistTrunk
	seen := map[uint32]bool{}
	for trunk != 0 && !seen[trunk] {
		seen[trunk] = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := source(trunk)
		if err != nil {
			return nil, err
		}
		decoded, err := page.DecodeFreelistTrunk(data)
		if err != nil {
			return nil, err
		}
		out = append(out, carve.Scan(data, trunk, 0, fullRE, sig)...)
		for _, leaf := range decoded.LeafPages {
			leafData, err := source(leaf)
			if err != nil {
				continue
			}
			out = append(out, carve.Scan(leafData, leaf, 0, fullRE, sig)...)
		}
		trunk = decoded.NextTrunk
	}
	return out, nil
}
