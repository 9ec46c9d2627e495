// Package schema parses the sqlite_master (a.k.a. sqlite_schema) table:
// the records found on the database's root page that describe every
// table, index, view, and trigger (component C3).
package schema

import (
	"strings"

	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/varint"
)

// ObjectType is the sqlite_master "type" column.
type ObjectType string

const (
	ObjectTable   ObjectType = "table"
	ObjectIndex   ObjectType = "index"
	ObjectView    ObjectType = "view"
	ObjectTrigger ObjectType = "trigger"
)

// Object is one decoded sqlite_master row.
type Object struct {
	Type     ObjectType
	Name     string
	TblName  string
	RootPage int64
	SQL      string
	Columns  []Column // populated by ParseColumns, empty until called
}

// Column is one column definition extracted from a CREATE TABLE
// statement.
type Column struct {
	Name          string
	Type          string // raw declared type, e.g. "VARCHAR(32)"
	Affinity      Affinity
	NotNull       bool
	PrimaryKey    bool
	Autoincrement bool
}

// Affinity is SQLite's column type-affinity classification, used by
// the signature builder as a fallback when a column is always NULL in
// the surviving data.
type Affinity int

const (
	AffinityBlob Affinity = iota
	AffinityText
	AffinityNumeric
	AffinityInteger
	AffinityReal
)

// DecodeObject builds an Object from a sqlite_master row's already-
// decoded record values, in (type, name, tbl_name, rootpage, sql)
// column order.
func DecodeObject(values []varint.Value) (Object, error) {
	if len(values) < 5 {
		return Object{}, dissecterr.New(dissecterr.KindMasterSchemaRowParsing, "decode_object", "schema row has fewer than 5 columns").
			WithContext(map[string]any{"columns": len(values)})
	}

	obj := Object{
		Type:     ObjectType(textOf(values[0])),
		Name:     textOf(values[1]),
		TblName:  textOf(values[2]),
		RootPage: values[3].Integer,
		SQL:      textOf(values[4]),
	}
	return obj, nil
}

func textOf(v varint.Value) string {
	if v.Kind == varint.KindText {
		return string(v.Bytes)
	}
	return ""
}

// AffinityOf computes SQLite's type-affinity rules (§3.1 of the file
// format: substring matching against the declared type name, checked
// in a fixed priority order).
func AffinityOf(declaredType string) Affinity {
	t := strings.ToUpper(declaredType)
	switch {
	case strings.Contains(t, "INT"):
		return AffinityInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return AffinityText
	case strings.Contains(t, "BLOB"), t == "":
		return AffinityBlob
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return AffinityReal
	default:
		return AffinityNumeric
	}
}
