// Package export defines the stable boundary between the recovery
// engine and whatever destination a caller wants recovered data routed
// to: a text report, a CSV file, a fresh SQLite database, a workbook,
// or a case-management system. The engine itself ships only the
// interface and one diagnostic reference sink; every other
// destination is an external collaborator's concern (component C11).
package export

import (
	"crypto/md5"
	"sort"

	"github.com/sqlitedissect/dissect/carve"
	"github.com/sqlitedissect/dissect/commit"
	"github.com/sqlitedissect/dissect/varint"
)

// ValueKind identifies the storage class a Sink must be prepared to
// handle; it mirrors varint.ValueKind but is declared independently so
// a Sink implementation never needs to import the decoder internals.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueInteger
	ValueFloat
	ValueBytes // BLOB content
	ValueText  // raw bytes in the database's declared text encoding; no transcoding is done here
)

// Value is one exported column value. No character transcoding or
// escaping is performed by the core: a ValueText's Bytes are exactly
// what was stored, in whatever encoding the database header declares.
type Value struct {
	Kind    ValueKind
	Integer int64
	Float   float64
	Bytes   []byte
}

func fromRecordValue(v varint.Value) Value {
	switch v.Kind {
	case varint.KindInteger:
		return Value{Kind: ValueInteger, Integer: v.Integer}
	case varint.KindFloat:
		return Value{Kind: ValueFloat, Float: v.Float}
	case varint.KindBlob:
		return Value{Kind: ValueBytes, Bytes: v.Bytes}
	case varint.KindText:
		return Value{Kind: ValueText, Bytes: v.Bytes}
	default:
		return Value{Kind: ValueNull}
	}
}

func fromRecordValues(values []varint.Value) []Value {
	out := make([]Value, len(values))
	for i, v := range values {
		out[i] = fromRecordValue(v)
	}
	return out
}

// Cell is one exported row: its identity (rowid for a rowid table,
// digest otherwise) plus its decoded column values. Before holds the
// prior version's values for an Updated cell; Values always holds the
// current (or, for a Deleted cell, the last-known) values.
type Cell struct {
	RowID  int64
	Digest [md5.Size]byte
	Before []Value
	Values []Value
	Carved bool
}

// Commit is everything a Sink receives for one (table, version) pair:
// the table's identity, the file and encoding context needed to
// interpret its values, and every row change partitioned by kind.
// Added/Updated/Deleted are sorted by rowid for rowid tables (ascending,
// matching the b-tree's own key order); Carved is left in scan order,
// since carved cells have no reliable ordering key of their own.
type Commit struct {
	TableName    string
	FileType     string // "database", "wal", "rollback_journal"
	Version      int
	TextEncoding string
	PageType     string
	RootPage     int64
	Added        []Cell
	Updated      []Cell
	Deleted      []Cell
	Carved       []Cell
}

// Sink is the stable per-commit call-out the recovery engine drives;
// every concrete destination (text, CSV, SQLite, XLSX, a case system)
// implements this one method.
type Sink interface {
	Emit(Commit) error
}

// FromTableDiff converts a commit.TableDiff into the Sink-facing
// Commit shape, partitioning its changes by kind and sorting the
// rowid-keyed partitions into ascending rowid order. fileType and
// textEncoding carry context the diff itself doesn't know about (which
// file produced it, and how to interpret its TEXT columns).
func FromTableDiff(diff commit.TableDiff, fileType, textEncoding, pageType string) Commit {
	out := Commit{
		TableName:    diff.Table.Name,
		FileType:     fileType,
		Version:      diff.Version,
		TextEncoding: textEncoding,
		PageType:     pageType,
		RootPage:     diff.Table.RootPage,
	}

	for _, c := range diff.Changes {
		cell := Cell{
			RowID:  c.RowID,
			Digest: c.Digest,
			Before: fromRecordValues(c.Before),
			Values: fromRecordValues(c.After),
			Carved: c.Carved,
		}
		switch c.Kind {
		case commit.ChangeAdded:
			out.Added = append(out.Added, cell)
		case commit.ChangeUpdated:
			out.Updated = append(out.Updated, cell)
		case commit.ChangeDeleted:
			cell.Values = cell.Before
			if cell.Carved {
				out.Carved = append(out.Carved, cell)
			} else {
				out.Deleted = append(out.Deleted, cell)
			}
		}
	}

	sortByRowID(out.Added)
	sortByRowID(out.Updated)
	sortByRowID(out.Deleted)
	return out
}

func sortByRowID(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool { return cells[i].RowID < cells[j].RowID })
}

// CandidateCell converts a carved candidate directly into a Cell, for
// callers emitting journal or freelist carving results that never
// went through a commit.TableDiff.
func CandidateCell(c carve.Candidate) Cell {
	return Cell{
		Digest: c.Digest,
		Values: fromRecordValues(c.Values),
		Carved: true,
	}
}
