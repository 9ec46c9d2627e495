package dissect

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/sqlitedissect/dissect/carve"
	"github.com/sqlitedissect/dissect/commit"
	"github.com/sqlitedissect/dissect/dissectlog"
	"github.com/sqlitedissect/dissect/export"
	"github.com/sqlitedissect/dissect/journal"
	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/schema"
	"github.com/sqlitedissect/dissect/sqlitefile"
)

// Options configures one recovery run over a single database file,
// mirroring the CLI surface's per-file flags.
type Options struct {
	StrictFormatChecking bool
	WALPath              string
	JournalPath          string
	ExemptedTables       map[string]bool
	OnlyTables           map[string]bool // nil means every non-exempt table
	Carve                bool
	CarveFreelists       bool
	Logger               *dissectlog.Logger
}

// Run opens dbPath, builds its version history (layering walPath's
// committed transactions over the base file when present), diffs
// every qualifying table across every version, optionally carves each
// table's unallocated space and freeblocks (and the freelist, when
// requested), and emits one export.Commit per (table, version) to
// sink. When opts.JournalPath names an existing rollback-journal
// file, its recoverable rows are additionally carved and emitted as
// file_type "rollback_journal" commits.
func Run(ctx context.Context, dbPath string, opts Options, sink export.Sink) error {
	logger := opts.Logger
	if logger == nil {
		logger = dissectlog.Discard()
	}

	db, err := sqlitefile.Open(dbPath,
		sqlitefile.WithStrictFormatChecking(opts.StrictFormatChecking),
		sqlitefile.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	header := db.Header()
	usablePageSize := header.UsablePageSize()
	textEncoding := textEncodingName(header.TextEncoding)

	objects, err := LoadSchema(ctx, db.PageSource(), usablePageSize, logger)
	if err != nil {
		return err
	}
	tables := selectTables(objects, opts)

	hist, err := BuildHistory(db.PageSource(), header.PageSize, opts.WALPath)
	if err != nil {
		return err
	}

	// Version 0 is the base file itself: every row it holds is a
	// logical "addition" relative to the empty state that precedes any
	// recovery, so it's diffed against a fabricated always-empty leaf
	// page rather than a real predecessor version (there isn't one).
	empty := emptyPageSource(header.PageSize)
	baseDiffs := make([]commit.TableDiff, len(tables))
	for i, table := range tables {
		diff, err := commit.Diff(ctx, empty, db.PageSource(), usablePageSize, table, 0)
		if err != nil {
			return err
		}
		baseDiffs[i] = diff
	}

	walDiffs, err := commit.BuildAll(ctx, hist, usablePageSize, tables)
	if err != nil {
		return err
	}

	// Emit in (table, version) order: every version of the first table,
	// then every version of the next. walDiffs is laid out version-major.
	var diffs []commit.TableDiff
	for ti := range tables {
		diffs = append(diffs, baseDiffs[ti])
		for vi := 1; vi <= hist.VersionCount(); vi++ {
			diffs = append(diffs, walDiffs[(vi-1)*len(tables)+ti])
		}
	}
	for _, diff := range diffs {
		if opts.Carve {
			view := hist.View(diff.Version)
			sig, err := BuildTableSignature(ctx, view, usablePageSize, diff.Table)
			if err == nil {
				candidates, err := CarveTable(ctx, view, usablePageSize, diff.Table, sig)
				if err == nil {
					if opts.CarveFreelists {
						freelistCandidates, err := CarveFreelist(ctx, view, header, sig)
						if err == nil {
							candidates = append(candidates, freelistCandidates...)
						} else {
							logger.Warn("freelist carve failed: "+err.Error(), -1, -1)
						}
					}
					diff = commit.MergeCarved(diff, candidates)
				} else {
					logger.Warn("table carve failed: "+err.Error(), -1, -1)
				}
			} else {
				logger.Warn("signature build failed: "+err.Error(), -1, -1)
			}
		}

		out := export.FromTableDiff(diff, "database", textEncoding, page.KindTableLeaf.String())
		if err := sink.Emit(out); err != nil {
			return err
		}
	}

	if opts.JournalPath != "" {
		if err := carveJournal(ctx, db, tables, usablePageSize, textEncoding, opts, sink); err != nil {
			return err
		}
	}

	return nil
}

func carveJournal(ctx context.Context, db *sqlitefile.Database, tables []schema.Object, usablePageSize int, textEncoding string, opts Options, sink export.Sink) error {
	if _, statErr := os.Stat(opts.JournalPath); statErr != nil {
		return nil
	}
	data, err := os.ReadFile(opts.JournalPath)
	if err != nil {
		return err
	}
	if err := journal.ValidatePageSize(db.Header().PageSize); err != nil {
		return err
	}
	records := journal.ReadPageRecords(data, db.Header().PageSize)

	for _, table := range tables {
		sig, err := BuildTableSignature(ctx, db.PageSource(), usablePageSize, table)
		if err != nil {
			continue
		}
		fullRE, err := carve.CompileSignature(sig, false)
		if err != nil {
			continue
		}
		candidates := journal.Carve(records, fullRE, sig)
		if len(candidates) == 0 {
			continue
		}

		out := export.Commit{
			TableName:    table.Name,
			FileType:     "rollback_journal",
			TextEncoding: textEncoding,
			PageType:     page.KindTableLeaf.String(),
			RootPage:     table.RootPage,
		}
		for _, c := range candidates {
			out.Carved = append(out.Carved, export.CandidateCell(c))
		}
		if err := sink.Emit(out); err != nil {
			return err
		}
	}
	return nil
}

func selectTables(objects []schema.Object, opts Options) []schema.Object {
	tables := FilterTables(objects, opts.ExemptedTables)
	if opts.OnlyTables == nil {
		return tables
	}
	var out []schema.Object
	for _, t := range tables {
		if opts.OnlyTables[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// emptyPageSource returns a page.PageSource that answers every page
// request with the same fabricated, empty table-leaf page — used as
// version 0's "before" state, since the base file has no predecessor
// version to diff against.
func emptyPageSource(pageSize int) page.PageSource {
	data := make([]byte, pageSize)
	data[0] = 0x0D
	if pageSize < 65536 {
		binary.BigEndian.PutUint16(data[5:7], uint16(pageSize))
	}
	return func(uint32) ([]byte, error) { return data, nil }
}

func textEncodingName(e page.TextEncoding) string {
	switch e {
	case page.TextEncodingUTF16LE:
		return "UTF-16LE"
	case page.TextEncodingUTF16BE:
		return "UTF-16BE"
	default:
		return "UTF-8"
	}
}
