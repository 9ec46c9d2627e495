package commit_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlitedissect/dissect/carve"
	"github.com/sqlitedissect/dissect/commit"
	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/schema"
	"github.com/sqlitedissect/dissect/varint"
	"github.com/sqlitedissect/dissect/wal"
	"github.com/sqlitedissect/dissect/version"
)

// buildRecord builds a one-column (int8) record: a 2-byte header
// (header-size varint, then the column's serial type) followed by the
// column's 1-byte content. Both the header-size varint and the serial
// type fit in a single byte here, so the header is always 2 bytes.
func buildRecord(value byte) []byte {
	return []byte{0x02, 0x01, value}
}

func buildCell(rowid int64, record []byte) []byte {
	var cell []byte
	cell = append(cell, varint.Encode(int64(len(record)))...)
	cell = append(cell, varint.Encode(rowid)...)
	cell = append(cell, record...)
	return cell
}

func buildTableLeafPage(pageSize int, cells [][]byte) []byte {
	data := make([]byte, pageSize)
	data[0] = 0x0D
	binary.BigEndian.PutUint16(data[3:5], uint16(len(cells)))

	contentStart := pageSize
	ptrs := make([]uint16, len(cells))
	for i, c := range cells {
		contentStart -= len(c)
		copy(data[contentStart:], c)
		ptrs[i] = uint16(contentStart)
	}
	binary.BigEndian.PutUint16(data[5:7], uint16(contentStart))

	for i, p := range ptrs {
		off := 8 + i*2
		binary.BigEndian.PutUint16(data[off:off+2], p)
	}
	return data
}

// fixedSource returns an unnamed function value (not page.PageSource or
// version.PageSource specifically) so it can be passed directly as
// either — both are defined types sharing this same underlying
// signature, and only an unnamed func value is assignable to both
// without an explicit conversion at each call site.
func fixedSource(data []byte) func(pageNumber uint32) ([]byte, error) {
	return func(pageNumber uint32) ([]byte, error) {
		return data, nil
	}
}

func TestDiffByRowIDClassifiesChanges(t *testing.T) {
	before := buildTableLeafPage(512, [][]byte{
		buildCell(1, buildRecord(10)),
		buildCell(2, buildRecord(20)),
	})
	after := buildTableLeafPage(512, [][]byte{
		buildCell(1, buildRecord(11)),
		buildCell(3, buildRecord(30)),
	})

	table := schema.Object{Type: schema.ObjectTable, Name: "t", RootPage: 2}
	diff, err := commit.Diff(context.Background(), fixedSource(before), fixedSource(after), 512, table, 1)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 3)

	byRowID := make(map[int64]commit.RowChange)
	for _, c := range diff.Changes {
		byRowID[c.RowID] = c
	}

	require.Equal(t, commit.ChangeUpdated, byRowID[1].Kind)
	require.EqualValues(t, 10, byRowID[1].Before[0].Integer)
	require.EqualValues(t, 11, byRowID[1].After[0].Integer)

	require.Equal(t, commit.ChangeDeleted, byRowID[2].Kind)
	require.EqualValues(t, 20, byRowID[2].Before[0].Integer)

	require.Equal(t, commit.ChangeAdded, byRowID[3].Kind)
	require.EqualValues(t, 30, byRowID[3].After[0].Integer)
}

func TestDiffByDigestForIndex(t *testing.T) {
	before := buildTableLeafPage(512, [][]byte{
		buildCell(1, buildRecord(10)),
	})
	after := buildTableLeafPage(512, [][]byte{
		buildCell(1, buildRecord(99)),
	})

	index := schema.Object{Type: schema.ObjectIndex, Name: "idx", RootPage: 2}
	diff, err := commit.Diff(context.Background(), fixedSource(before), fixedSource(after), 512, index, 1)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 2)

	var added, deleted int
	for _, c := range diff.Changes {
		switch c.Kind {
		case commit.ChangeAdded:
			added++
		case commit.ChangeDeleted:
			deleted++
		}
	}
	require.Equal(t, 1, added)
	require.Equal(t, 1, deleted)
}

func TestBuildAllAcrossVersions(t *testing.T) {
	base := buildTableLeafPage(512, [][]byte{buildCell(1, buildRecord(10))})
	afterPage := buildTableLeafPage(512, [][]byte{
		buildCell(1, buildRecord(10)),
		buildCell(2, buildRecord(20)),
	})

	hist, err := version.Build(fixedSource(base), 512, []wal.Frame{
		{Index: 0, PageNumber: 2, DBSizeAfterCommit: 2, Page: afterPage},
	})
	require.NoError(t, err)
	require.Equal(t, 1, hist.VersionCount())

	table := schema.Object{Type: schema.ObjectTable, Name: "t", RootPage: 2}
	diffs, err := commit.BuildAll(context.Background(), hist, 512, []schema.Object{table})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Len(t, diffs[0].Changes, 1)
	require.Equal(t, commit.ChangeAdded, diffs[0].Changes[0].Kind)
	require.EqualValues(t, 2, diffs[0].Changes[0].RowID)
}

func TestMergeCarvedSkipsDuplicateDigest(t *testing.T) {
	before := buildTableLeafPage(512, [][]byte{})
	after := buildTableLeafPage(512, [][]byte{buildCell(1, buildRecord(10))})

	table := schema.Object{Type: schema.ObjectTable, Name: "t", RootPage: 2}
	diff, err := commit.Diff(context.Background(), fixedSource(before), fixedSource(after), 512, table, 1)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 1)

	merged := commit.MergeCarved(diff, []carve.Candidate{{Digest: diff.Changes[0].Digest}})
	require.Len(t, merged.Changes, 1)
}
