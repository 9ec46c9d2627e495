// Package dissect is the orchestration facade: it wires the decoder
// (page, varint), schema (schema), version history (version, wal),
// signature (signature), carving (carve, journal), and diff (commit)
// packages together into the parse/carve/export pipeline described by
// the recovery engine's external API, so a caller (the reference CLI,
// or any embedder) drives one surface instead of every package
// directly.
package dissect

import (
	"context"

	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/dissectlog"
	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/schema"
	"github.com/sqlitedissect/dissect/varint"
)

// masterSchemaRootPage is always page 1 in a SQLite database file.
const masterSchemaRootPage = 1

// LoadSchema walks the sqlite_master (a.k.a. sqlite_schema) table on
// the given version view and decodes every entry, populating each
// table's Columns by parsing its CREATE TABLE statement. Entries
// without a usable CREATE statement (views, triggers, internal
// sqlite_* objects) are still returned with empty Columns. Every
// table's column list is opportunistically cross-checked against
// sqlparser via schema.CrossCheck; a logged disagreement never fails
// the load, since sqlparser's MySQL grammar rejects SQLite-only syntax
// often enough that it can only ever be a secondary diagnostic.
// logger may be nil, in which case cross-check disagreements are
// silently dropped (e.g. schema inspection call sites that don't have
// one to hand).
func LoadSchema(ctx context.Context, source page.PageSource, usablePageSize int, logger *dissectlog.Logger) ([]schema.Object, error) {
	cells, err := page.CollectLeaves(ctx, source, masterSchemaRootPage, usablePageSize)
	if err != nil {
		return nil, dissecterr.Wrap(dissecterr.KindMasterSchemaParsing, "load_schema", err)
	}

	objects := make([]schema.Object, 0, len(cells))
	for _, c := range cells {
		payload, err := c.FullPayload(source, usablePageSize, 4096)
		if err != nil {
			continue
		}
		header, bodyOffset, err := varint.DecodeRecordHeader(payload, 0)
		if err != nil {
			continue
		}
		values, truncated, err := varint.DecodeRecordBody(payload, bodyOffset, header)
		if err != nil || truncated {
			continue
		}
		obj, err := schema.DecodeObject(values)
		if err != nil {
			continue
		}
		if obj.Type == schema.ObjectTable && obj.SQL != "" {
			if cols, err := schema.ParseColumns(obj.SQL); err == nil {
				obj.Columns = cols
				if logger != nil {
					if agree, checked := schema.CrossCheck(obj.SQL, cols); checked && !agree {
						logger.Warn("sqlparser cross-check disagrees with tokenized column count for table "+obj.Name, -1, -1)
					}
				}
			}
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// FilterTables returns the subset of objects that are ordinary tables
// (excluding SQLite's own internal sqlite_ prefixed objects), with any
// name in exempt skipped — the --exempted-tables CLI surface's
// table-level filtering.
func FilterTables(objects []schema.Object, exempt map[string]bool) []schema.Object {
	var out []schema.Object
	for _, o := range objects {
		if o.Type != schema.ObjectTable {
			continue
		}
		if len(o.Name) >= 7 && o.Name[:7] == "sqlite_" {
			continue
		}
		if exempt[o.Name] {
			continue
		}
		out = append(out, o)
	}
	return out
}
