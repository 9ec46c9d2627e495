// Package version reconstructs the sequence of page-level database
// states a WAL produces: version 0 is the base database file, and
// each subsequent version is the state after one committed
// transaction's frames have been applied (component C6).
package version

import (
	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/wal"
)

// History is an ordered chain of page-level database versions: index
// 0 is the base file, index i>0 is the state after the i-th committed
// WAL transaction. Rather than materializing every version's full
// page set up front, History keeps only the pages each transaction
// actually touched (an arena of page images) plus, per page, the
// sorted list of versions that wrote it — a lookup picks the latest
// of those at or before the requested version, else the base file.
type History struct {
	base      PageSource
	pageSize  int
	versions  []transaction
	pageIndex map[uint32][]int // pageNumber -> sorted list of version indices that wrote it
}

// PageSource fetches a page's full bytes from the base database file.
type PageSource func(pageNumber uint32) ([]byte, error)

// transaction holds the pages one committed WAL transaction wrote,
// keyed by page number, plus the WAL frame index range it spanned.
type transaction struct {
	pages      map[uint32][]byte
	firstFrame int
	lastFrame  int
}

// Build groups a WAL's already-checksum-validated frames into
// per-transaction page sets (splitting at each commit frame) and
// indexes which pages each transaction last wrote.
func Build(base PageSource, pageSize int, frames []wal.Frame) (*History, error) {
	h := &History{base: base, pageSize: pageSize, pageIndex: map[uint32][]int{}}

	cur := transaction{pages: map[uint32][]byte{}, firstFrame: -1}
	for _, f := range frames {
		if cur.firstFrame == -1 {
			cur.firstFrame = f.Index
		}
		cur.pages[f.PageNumber] = f.Page
		cur.lastFrame = f.Index

		if f.IsCommit() {
			h.versions = append(h.versions, cur)
			idx := len(h.versions) // 1-based version number (0 is the base file)
			for pn := range cur.pages {
				h.pageIndex[pn] = append(h.pageIndex[pn], idx)
			}
			cur = transaction{pages: map[uint32][]byte{}, firstFrame: -1}
		}
	}

	if len(cur.pages) > 0 {
		return h, dissecterr.New(dissecterr.KindVersionParsing, "build", "WAL ends mid-transaction; uncommitted frames ignored").
			WithContext(map[string]any{"dangling_pages": len(cur.pages)})
	}

	return h, nil
}

// VersionCount returns the number of versions after the base file
// (i.e. the number of committed transactions).
func (h *History) VersionCount() int {
	return len(h.versions)
}

// Page returns the page's content as of the given version number (0
// is the base file). It walks backward from version to find the most
// recent transaction that wrote the page, falling back to the base
// file if none did.
func (h *History) Page(pageNumber uint32, version int) ([]byte, error) {
	if version < 0 || version > len(h.versions) {
		return nil, dissecterr.New(dissecterr.KindVersionParsing, "page", "version out of range").
			WithContext(map[string]any{"version": version, "max": len(h.versions)})
	}

	versionsThatWrote := h.pageIndex[pageNumber]
	for i := len(versionsThatWrote) - 1; i >= 0; i-- {
		v := versionsThatWrote[i]
		if v <= version {
			return h.versions[v-1].pages[pageNumber], nil
		}
	}

	return h.base(pageNumber)
}

// TouchedPages returns the set of page numbers a given version's
// transaction wrote (empty for version 0, the base file).
func (h *History) TouchedPages(version int) []uint32 {
	if version <= 0 || version > len(h.versions) {
		return nil
	}
	t := h.versions[version-1]
	out := make([]uint32, 0, len(t.pages))
	for pn := range t.pages {
		out = append(out, pn)
	}
	return out
}

// View is a PageSource bound to a single version, suitable for
// passing to page.DecodeCell's overflow-following or a b-tree walk.
func (h *History) View(version int) page.PageSource {
	return func(pageNumber uint32) ([]byte, error) {
		return h.Page(pageNumber, version)
	}
}
