package page

import (
	"context"

	"github.com/sqlitedissect/dissect/dissecterr"
)

// VisitFunc is called once per leaf cell encountered during a b-tree
// walk, in key order (ascending rowid for table b-trees, ascending
// index key for index b-trees).
type VisitFunc func(c Cell) error

// WalkBTree performs an in-order traversal of the b-tree rooted at
// root, invoking visit for every leaf cell. It works for both table
// and index b-trees: interior cells are followed recursively and
// their own key data (if any) is not itself visited, matching
// SQLite's b-tree semantics where only leaf cells hold live rows.
func WalkBTree(ctx context.Context, source PageSource, root uint32, usablePageSize int, visit VisitFunc) error {
	return walk(ctx, source, root, usablePageSize, visit, 0)
}

const maxWalkDepth = 64

func walk(ctx context.Context, source PageSource, pageNum uint32, usablePageSize int, visit VisitFunc, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > maxWalkDepth {
		return dissecterr.New(dissecterr.KindBTreePageParsing, "walk", "b-tree depth exceeds sanity limit").
			WithContext(map[string]any{"page": pageNum, "depth": depth})
	}

	data, err := source(pageNum)
	if err != nil {
		return dissecterr.Wrap(dissecterr.KindBTreePageParsing, "walk", err)
	}

	headerOffset := 0
	if pageNum == 1 {
		headerOffset = HeaderSize
	}

	header, err := DecodeBTreeHeader(data, headerOffset)
	if err != nil {
		return err
	}

	ptrs, err := CellPointers(data, headerOffset, header)
	if err != nil {
		return err
	}

	for _, off := range ptrs {
		cell, err := DecodeCell(data, off, header, usablePageSize)
		if err != nil {
			return err
		}
		if header.IsInterior() {
			if err := walk(ctx, source, cell.LeftChildPage, usablePageSize, visit, depth+1); err != nil {
				return err
			}
			continue
		}
		if err := visit(cell); err != nil {
			return err
		}
	}

	if header.IsInterior() && header.RightmostPointer != 0 {
		if err := walk(ctx, source, header.RightmostPointer, usablePageSize, visit, depth+1); err != nil {
			return err
		}
	}

	return nil
}

// CollectLeaves walks the b-tree rooted at root and returns every
// leaf cell in key order.
func CollectLeaves(ctx context.Context, source PageSource, root uint32, usablePageSize int) ([]Cell, error) {
	var cells []Cell
	err := WalkBTree(ctx, source, root, usablePageSize, func(c Cell) error {
		cells = append(cells, c)
		return nil
	})
	return cells, err
}

// LeafPageNumbers walks the b-tree rooted at root and returns the page
// number of every leaf page reached, in traversal order. Unlike
// CollectLeaves, this stops at the page rather than decoding its
// cells — the carver needs the leaf pages themselves (their
// unallocated regions and freeblock chains), not their live cells.
func LeafPageNumbers(ctx context.Context, source PageSource, root uint32, usablePageSize int) ([]uint32, error) {
	var pages []uint32
	err := walkPages(ctx, source, root, usablePageSize, &pages, 0)
	return pages, err
}

func walkPages(ctx context.Context, source PageSource, pageNum uint32, usablePageSize int, out *[]uint32, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > maxWalkDepth {
		return dissecterr.New(dissecterr.KindBTreePageParsing, "walk_pages", "b-tree depth exceeds sanity limit").
			WithContext(map[string]any{"page": pageNum, "depth": depth})
	}

	data, err := source(pageNum)
	if err != nil {
		return dissecterr.Wrap(dissecterr.KindBTreePageParsing, "walk_pages", err)
	}

	headerOffset := 0
	if pageNum == 1 {
		headerOffset = HeaderSize
	}

	header, err := DecodeBTreeHeader(data, headerOffset)
	if err != nil {
		return err
	}

	if header.IsLeaf() {
		*out = append(*out, pageNum)
		return nil
	}

	ptrs, err := CellPointers(data, headerOffset, header)
	if err != nil {
		return err
	}
	for _, off := range ptrs {
		cell, err := DecodeCell(data, off, header, usablePageSize)
		if err != nil {
			return err
		}
		if err := walkPages(ctx, source, cell.LeftChildPage, usablePageSize, out, depth+1); err != nil {
			return err
		}
	}
	if header.RightmostPointer != 0 {
		if err := walkPages(ctx, source, header.RightmostPointer, usablePageSize, out, depth+1); err != nil {
			return err
		}
	}
	return nil
}
