package dissect_test

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlitedissect/dissect/dissect"
	"github.com/sqlitedissect/dissect/export"
	"github.com/sqlitedissect/dissect/schema"
	"github.com/sqlitedissect/dissect/varint"
)

// buildRecordBytes encodes a record's header-size varint, serial
// types, and column content, recomputing the header-size varint's own
// byte length until it's self-consistent (mirrors the carver's own
// test helper).
func buildRecordBytes(serials []int64, content [][]byte) []byte {
	var headerBody []byte
	for _, s := range serials {
		headerBody = append(headerBody, varint.Encode(s)...)
	}
	headerSizeField := varint.Encode(0)
	total := len(headerSizeField) + len(headerBody)
	for {
		hs := varint.Encode(int64(total))
		if len(hs) == len(headerSizeField) {
			headerSizeField = hs
			break
		}
		headerSizeField = hs
		total = len(headerSizeField) + len(headerBody)
	}
	out := append([]byte{}, headerSizeField...)
	out = append(out, headerBody...)
	for _, c := range content {
		out = append(out, c...)
	}
	return out
}

func buildCell(rowid int64, record []byte) []byte {
	var cell []byte
	cell = append(cell, varint.Encode(int64(len(record)))...)
	cell = append(cell, varint.Encode(rowid)...)
	cell = append(cell, record...)
	return cell
}

func writeTableLeafPage(data []byte, headerOffset int, cells [][]byte) {
	data[headerOffset] = 0x0D
	binary.BigEndian.PutUint16(data[headerOffset+3:headerOffset+5], uint16(len(cells)))

	contentStart := len(data)
	ptrs := make([]uint16, len(cells))
	for i, c := range cells {
		contentStart -= len(c)
		copy(data[contentStart:], c)
		ptrs[i] = uint16(contentStart)
	}
	binary.BigEndian.PutUint16(data[headerOffset+5:headerOffset+7], uint16(contentStart))

	for i, p := range ptrs {
		off := headerOffset + 8 + i*2
		binary.BigEndian.PutUint16(data[off:off+2], p)
	}
}

// buildDatabaseFile assembles a minimal two-page SQLite database file:
// page 1 holds the sqlite_master row describing table "t" (root page
// 2); page 2 holds two live rows of t(id INTEGER, val INTEGER).
func buildDatabaseFile(t *testing.T, pageSize int) string {
	t.Helper()

	schemaRecord := buildRecordBytes(
		[]int64{
			13 + 2*5, // "table"
			13 + 2*1, // "t"
			13 + 2*1, // "t"
			1,        // root page, int8
			13 + 2*39, // sql text
		},
		[][]byte{
			[]byte("table"),
			[]byte("t"),
			[]byte("t"),
			{2},
			[]byte("CREATE TABLE t(id INTEGER, val INTEGER)"),
		},
	)
	schemaCell := buildCell(1, schemaRecord)

	page1 := make([]byte, pageSize)
	copy(page1[0:16], "SQLite format 3\x00")
	binary.BigEndian.PutUint16(page1[16:18], uint16(pageSize))
	binary.BigEndian.PutUint32(page1[28:32], 2) // size in pages
	writeTableLeafPage(page1, 100, [][]byte{schemaCell})

	row1 := buildCell(1, buildRecordBytes([]int64{1, 1}, [][]byte{{10}, {100}}))
	row2 := buildCell(2, buildRecordBytes([]int64{1, 1}, [][]byte{{20}, {50}}))
	page2 := make([]byte, pageSize)
	writeTableLeafPage(page2, 0, [][]byte{row1, row2})

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	var file []byte
	file = append(file, page1...)
	file = append(file, page2...)
	require.NoError(t, os.WriteFile(path, file, 0o644))
	return path
}

type recordingSink struct {
	commits []export.Commit
}

func (s *recordingSink) Emit(c export.Commit) error {
	s.commits = append(s.commits, c)
	return nil
}

func TestRunLoadsSchemaAndDiffsBaseVersion(t *testing.T) {
	path := buildDatabaseFile(t, 512)

	sink := &recordingSink{}
	err := dissect.Run(context.Background(), path, dissect.Options{}, sink)
	require.NoError(t, err)

	require.Len(t, sink.commits, 1)
	out := sink.commits[0]
	require.Equal(t, "t", out.TableName)
	require.Equal(t, "database", out.FileType)
	require.Len(t, out.Added, 2)
	require.EqualValues(t, 1, out.Added[0].RowID)
	require.EqualValues(t, 10, out.Added[0].Values[0].Integer)
	require.EqualValues(t, 100, out.Added[0].Values[1].Integer)
	require.EqualValues(t, 2, out.Added[1].RowID)
}

func TestRunIgnoresExemptionOfAbsentTable(t *testing.T) {
	path := buildDatabaseFile(t, 512)

	sink := &recordingSink{}
	require.NoError(t, dissect.Run(context.Background(), path, dissect.Options{
		ExemptedTables: map[string]bool{"other": true},
	}, sink))
	require.Len(t, sink.commits, 1)
}

func TestFilterTablesExcludesSqliteInternalAndExempt(t *testing.T) {
	objects := []schema.Object{
		{Type: schema.ObjectTable, Name: "sqlite_sequence"},
		{Type: schema.ObjectTable, Name: "t"},
		{Type: schema.ObjectTable, Name: "skip_me"},
		{Type: schema.ObjectView, Name: "v"},
	}
	out := dissect.FilterTables(objects, map[string]bool{"skip_me": true})
	require.Len(t, out, 1)
	require.Equal(t, "t", out[0].Name)
}
