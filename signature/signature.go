// Package signature builds per-table column-shape signatures the
// carver uses to recognize candidate records in unallocated space: a
// record only matches a table's signature if its serial-type sequence
// is consistent with what that table's rows actually look like
// (component C8).
package signature

import (
	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/schema"
	"github.com/sqlitedissect/dissect/varint"
)

// ColumnSignature describes the simplified serial types observed (or
// expected) for one column across a table's surviving rows.
type ColumnSignature struct {
	// Simplified serial types seen for this column (varint.Simplify
	// output: a fixed numeric class, BlobID, or TextID).
	Observed map[int64]bool
	// Nullable is true if any observed row had a NULL in this column.
	Nullable bool
}

// Signature is the per-table record shape the carver matches
// candidate cells against.
type Signature struct {
	TableName string
	Columns   []ColumnSignature
	// Probabilistic is true when the signature was built from actual
	// surviving rows (high confidence); false when it had to fall back
	// to the declared schema's type affinities because the table had
	// no surviving rows to sample from.
	Probabilistic bool
}

// Matches reports whether a decoded record header is consistent with
// this signature: same column count, and each column's simplified
// serial type was observed for that column (or the column is
// nullable and this value is NULL).
func (s Signature) Matches(header varint.RecordHeader) bool {
	if len(header.SerialTypes) != len(s.Columns) {
		return false
	}
	for i, st := range header.SerialTypes {
		col := s.Columns[i]
		simplified := varint.Simplify(st)
		if simplified == 0 && col.Nullable {
			continue
		}
		if !col.Observed[simplified] {
			return false
		}
	}
	return true
}

// Builder accumulates column signatures from live rows as a table's
// b-tree is walked, then finalizes into a Signature.
type Builder struct {
	tableName string
	columns   []ColumnSignature
}

// NewBuilder starts a signature for a table with the given column
// count (from its parsed schema).
func NewBuilder(tableName string, columnCount int) *Builder {
	cols := make([]ColumnSignature, columnCount)
	for i := range cols {
		cols[i] = ColumnSignature{Observed: map[int64]bool{}}
	}
	return &Builder{tableName: tableName, columns: cols}
}

// Observe folds one decoded row's serial types into the signature.
// Rows with a different column count than the builder was created
// with are ignored (most likely a different logical row version from
// an ALTER TABLE; the carver only matches the current schema shape).
func (b *Builder) Observe(serialTypes []int64) {
	if len(serialTypes) != len(b.columns) {
		return
	}
	for i, st := range serialTypes {
		simplified := varint.Simplify(st)
		if simplified == 0 {
			b.columns[i].Nullable = true
			continue
		}
		b.columns[i].Observed[simplified] = true
	}
}

// Finalize produces the Signature. If no rows were ever observed
// (every column's Observed set is empty), RecommendedFromSchema should
// be used instead — Finalize on an empty builder still returns a
// (Probabilistic: false) signature so callers can detect the case.
func (b *Builder) Finalize() Signature {
	observedAny := false
	for _, c := range b.columns {
		if len(c.Observed) > 0 {
			observedAny = true
			break
		}
	}
	return Signature{TableName: b.tableName, Columns: b.columns, Probabilistic: observedAny}
}

// RecommendedFromSchema builds a fallback signature purely from a
// table's declared column affinities, for tables with no surviving
// rows to sample a probabilistic signature from (the
// recommended_schema_signature case).
func RecommendedFromSchema(tableName string, columns []schema.Column) Signature {
	cols := make([]ColumnSignature, len(columns))
	for i, c := range columns {
		cols[i] = ColumnSignature{Observed: affinitySerialTypes(c.Affinity), Nullable: !c.NotNull}
	}
	return Signature{TableName: tableName, Columns: cols, Probabilistic: false}
}

// affinitySerialTypes maps a declared column affinity to the set of
// simplified serial types SQLite would plausibly store for it. This
// is deliberately permissive — SQLite's manifest typing means any
// column can hold any storage class regardless of declared affinity —
// but a recommended signature errs toward matching more rather than
// rejecting real candidates.
func affinitySerialTypes(a schema.Affinity) map[int64]bool {
	switch a {
	case schema.AffinityInteger:
		return setOf(1, 2, 3, 4, 5, 6, 8, 9)
	case schema.AffinityReal:
		return setOf(7, 1, 2, 3, 4, 5, 6, 8, 9)
	case schema.AffinityText:
		return setOf(varint.TextID)
	case schema.AffinityBlob:
		return setOf(varint.BlobID, varint.TextID)
	default: // numeric
		return setOf(1, 2, 3, 4, 5, 6, 7, 8, 9, varint.TextID)
	}
}

func setOf(values ...int64) map[int64]bool {
	m := make(map[int64]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// BuildFromTable walks a table's live b-tree and builds its
// probabilistic signature by observing every surviving row's serial
// types.
func BuildFromTable(tableName string, columnCount int, cells []page.Cell) Signature {
	b := NewBuilder(tableName, columnCount)
	for _, c := range cells {
		header, bodyOffset, err := varint.DecodeRecordHeader(c.Payload, 0)
		if err != nil {
			continue
		}
		_ = bodyOffset
		b.Observe(header.SerialTypes)
	}
	return b.Finalize()
}
