package version_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlitedissect/dissect/version"
	"github.com/sqlitedissect/dissect/wal"
)

func page(b byte, size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestBuildAndPageLookup(t *testing.T) {
	base := func(pn uint32) ([]byte, error) {
		return page(0x00, 16), nil
	}

	frames := []wal.Frame{
		{Index: 0, PageNumber: 1, Page: page(0x01, 16)},
		{Index: 1, PageNumber: 2, Page: page(0x02, 16), DBSizeAfterCommit: 2}, // commits version 1
		{Index: 2, PageNumber: 1, Page: page(0x03, 16), DBSizeAfterCommit: 2}, // commits version 2
	}

	h, err := version.Build(base, 16, frames)
	require.NoError(t, err)
	require.Equal(t, 2, h.VersionCount())

	v0, err := h.Page(1, 0)
	require.NoError(t, err)
	require.Equal(t, page(0x00, 16), v0)

	v1, err := h.Page(1, 1)
	require.NoError(t, err)
	require.Equal(t, page(0x01, 16), v1)

	v2, err := h.Page(1, 2)
	require.NoError(t, err)
	require.Equal(t, page(0x03, 16), v2)

	// Page 2 was untouched until version 1; version 0 falls back to base.
	p2v0, err := h.Page(2, 0)
	require.NoError(t, err)
	require.Equal(t, page(0x00, 16), p2v0)

	p2v1, err := h.Page(2, 1)
	require.NoError(t, err)
	require.Equal(t, page(0x02, 16), p2v1)
}

func TestBuildRejectsDanglingTransaction(t *testing.T) {
	base := func(pn uint32) ([]byte, error) { return page(0, 16), nil }
	frames := []wal.Frame{
		{Index: 0, PageNumber: 1, Page: page(0x01, 16)}, // never commits
	}
	h, err := version.Build(base, 16, frames)
	require.Error(t, err)
	require.NotNil(t, h)
	require.Equal(t, 0, h.VersionCount())
}

func TestTouchedPages(t *testing.T) {
	base := func(pn uint32) ([]byte, error) { return page(0, 16), nil }
	frames := []wal.Frame{
		{Index: 0, PageNumber: 1, Page: page(1, 16), DBSizeAfterCommit: 1},
		{Index: 1, PageNumber: 3, Page: page(2, 16), DBSizeAfterCommit: 1},
	}
	h, err := version.Build(base, 16, frames)
	require.NoError(t, err)
	require.Equal(t, 2, h.VersionCount())
	require.ElementsMatch(t, []uint32{1}, h.TouchedPages(1))
	require.ElementsMatch(t, []uint32{3}, h.TouchedPages(2))
	require.Empty(t, h.TouchedPages(0))
}
