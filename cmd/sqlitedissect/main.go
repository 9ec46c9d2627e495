// Command sqlitedissect is the reference driver for the recovery
// engine: it resolves a file or a directory of files, builds each
// one's version history and optional rollback-journal, and routes
// recovered commits to the sinks named by --export. It is one
// external collaborator among many (component C11 treats every
// concrete sink as external); the engine itself is driven identically
// through package dissect by any other caller.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/sqlitedissect/dissect/dissect"
	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/dissectlog"
	"github.com/sqlitedissect/dissect/export"
	"github.com/sqlitedissect/dissect/schema"
	"github.com/sqlitedissect/dissect/sqlitefile"
)

type cli struct {
	Path string `arg:"" type:"path" help:"Database file, or a directory to walk when --directory is set."`

	Directory  bool   `help:"Treat PATH as a directory and recover every database file under it."`
	FilePrefix string `help:"Restrict the directory walk to file names starting with this prefix."`

	Export []string `help:"Sinks to drive: text, csv, sqlite, xlsx, case." enum:"text,csv,sqlite,xlsx,case" sep:"," default:"text"`

	WAL             bool `help:"Layer the adjacent -wal file's committed transactions into the version history, if present."`
	RollbackJournal bool `help:"Carve the adjacent -journal file for recoverable rows, if present."`
	NoJournal       bool `help:"Never look for a rollback-journal file next to PATH, even with --rollback-journal set."`

	ExemptedTables []string `help:"Table names to exclude from recovery." sep:","`
	Tables         []string `help:"Table names to restrict recovery to (default: every qualifying table)." sep:","`

	Schema        bool `help:"Print the current master schema and exit; no recovery is performed."`
	SchemaHistory bool `help:"Print the master schema as it existed at every version and exit."`
	Signatures    bool `help:"Print each table's carving signature and exit; no recovery is performed."`

	Carve          bool `help:"Carve unallocated space and freeblocks for deleted rows."`
	CarveFreelists bool `help:"Also carve freelist pages (implies --carve)."`

	DisableStrictFormatChecking bool `help:"Tolerate header and size-field inconsistencies that would otherwise be fatal."`

	LogLevel string `help:"critical, error, warning, info, debug, or off." enum:"critical,error,warning,info,debug,off" default:"warning"`
	LogFile  string `help:"Write log output here instead of stderr."`
	Warnings bool   `help:"Echo per-commit warnings (page, offset, component) to stderr as they happen."`
}

func main() {
	var c cli
	kong.Parse(&c,
		kong.Name("sqlitedissect"),
		kong.Description("Recover rows from a SQLite database's base file, WAL, and rollback journal."),
		kong.UsageOnError(),
	)

	if err := c.run(); err != nil {
		fmt.Fprintln(os.Stderr, "sqlitedissect: "+err.Error())
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor mirrors the CLI surface's contract: 0 on success,
// non-zero on any failure. When err carries a dissecterr kind, the
// kind is logged so a caller scripting this CLI can grep for it;
// every error, with or without a kind, maps to exit code 1.
func exitCodeFor(err error) int {
	if kind := dissecterr.KindOf(err); kind != dissecterr.KindUnknown {
		fmt.Fprintln(os.Stderr, "sqlitedissect: error kind: "+kind.String())
	}
	return 1
}

func (c *cli) run() error {
	logOut, err := c.openLogFile()
	if err != nil {
		return err
	}
	var out io.Writer
	if logOut != nil {
		defer logOut.Close()
		out = logOut
	}
	logger := dissectlog.New(c.effectiveLogLevel(), out)

	paths, err := c.resolvePaths()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no %s.db/.sqlite/.sqlite3 files found under %s", c.FilePrefix, c.Path)
	}

	sinks, err := c.buildSinks(logger)
	if err != nil {
		return err
	}

	for _, path := range paths {
		if err := c.runOne(path, logger, sinks); err != nil {
			logger.Error(path, err)
			if len(paths) == 1 {
				return err
			}
		}
	}
	return nil
}

// effectiveLogLevel applies --warnings: a caller who asked to see
// per-commit warnings shouldn't have them silently swallowed by a
// --log-level of error/critical/off set for some other reason.
func (c *cli) effectiveLogLevel() string {
	if !c.Warnings {
		return c.LogLevel
	}
	switch c.LogLevel {
	case "critical", "error", "off":
		return "warning"
	default:
		return c.LogLevel
	}
}

func (c *cli) openLogFile() (*os.File, error) {
	if c.LogFile == "" {
		return nil, nil
	}
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// resolvePaths expands PATH into the list of database files to
// process: PATH itself, or every file-prefix-matching .db/.sqlite/
// .sqlite3 file under it when --directory is set.
func (c *cli) resolvePaths() ([]string, error) {
	if !c.Directory {
		return []string{c.Path}, nil
	}

	var out []string
	err := filepath.WalkDir(c.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if c.FilePrefix != "" && !strings.HasPrefix(name, c.FilePrefix) {
			return nil
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".db", ".sqlite", ".sqlite3":
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// buildSinks constructs one export.Sink per --export value named in
// the reference implementation. text is the only sink the core ships
// (component C11 treats csv/sqlite/xlsx/case as external collaborators
// with no in-tree implementation); naming one of them here just warns
// and skips it rather than failing the whole run.
func (c *cli) buildSinks(logger *dissectlog.Logger) ([]export.Sink, error) {
	var sinks []export.Sink
	for _, kind := range c.Export {
		switch kind {
		case "text":
			sinks = append(sinks, export.NewTextSink(os.Stdout))
		default:
			logger.Warn(kind+" export is an external collaborator sink; this reference CLI only ships text", -1, -1)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, export.NewTextSink(os.Stdout))
	}
	return sinks, nil
}

type multiSink struct {
	sinks []export.Sink
}

func (m multiSink) Emit(c export.Commit) error {
	for _, s := range m.sinks {
		if err := s.Emit(c); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) runOne(path string, logger *dissectlog.Logger, sinks []export.Sink) error {
	switch {
	case c.Schema:
		return c.printSchema(path, logger)
	case c.SchemaHistory:
		return c.printSchemaHistory(path, logger)
	case c.Signatures:
		return c.printSignatures(path, logger)
	}

	opts := dissect.Options{
		StrictFormatChecking: !c.DisableStrictFormatChecking,
		ExemptedTables:       toSet(c.ExemptedTables),
		OnlyTables:           toSetOrNil(c.Tables),
		Carve:                c.Carve || c.CarveFreelists,
		CarveFreelists:       c.CarveFreelists,
		Logger:               logger,
	}
	if c.WAL {
		opts.WALPath = path + "-wal"
	}
	if c.RollbackJournal && !c.NoJournal {
		opts.JournalPath = path + "-journal"
	}

	return dissect.Run(context.Background(), path, opts, multiSink{sinks: sinks})
}

// printSchema opens path and prints the current master schema, one
// line per object, honoring --tables/--exempted-tables the same way
// a recovery run would.
func (c *cli) printSchema(path string, logger *dissectlog.Logger) error {
	db, err := sqlitefile.Open(path,
		sqlitefile.WithStrictFormatChecking(!c.DisableStrictFormatChecking),
		sqlitefile.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	objects, err := dissect.LoadSchema(context.Background(), db.PageSource(), db.Header().UsablePageSize(), logger)
	if err != nil {
		return err
	}
	for _, t := range c.filterSelected(objects) {
		fmt.Printf("%s\t%s\troot %d\t%s\n", t.Type, t.Name, t.RootPage, t.SQL)
	}
	return nil
}

// printSchemaHistory prints the master schema as it existed at every
// version in the file's history (base file plus every WAL-committed
// transaction), one block per version.
func (c *cli) printSchemaHistory(path string, logger *dissectlog.Logger) error {
	db, err := sqlitefile.Open(path,
		sqlitefile.WithStrictFormatChecking(!c.DisableStrictFormatChecking),
		sqlitefile.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	header := db.Header()
	walPath := ""
	if c.WAL {
		walPath = path + "-wal"
	}
	hist, err := dissect.BuildHistory(db.PageSource(), header.PageSize, walPath)
	if err != nil {
		return err
	}

	for v := 0; v <= hist.VersionCount(); v++ {
		fmt.Printf("version %d:\n", v)
		objects, err := dissect.LoadSchema(context.Background(), hist.View(v), header.UsablePageSize(), logger)
		if err != nil {
			return err
		}
		for _, t := range c.filterSelected(objects) {
			fmt.Printf("  %s\t%s\troot %d\t%s\n", t.Type, t.Name, t.RootPage, t.SQL)
		}
	}
	return nil
}

// printSignatures prints each qualifying table's carving signature,
// sampled from its current (most recent version) rows.
func (c *cli) printSignatures(path string, logger *dissectlog.Logger) error {
	db, err := sqlitefile.Open(path,
		sqlitefile.WithStrictFormatChecking(!c.DisableStrictFormatChecking),
		sqlitefile.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	usablePageSize := db.Header().UsablePageSize()
	objects, err := dissect.LoadSchema(context.Background(), db.PageSource(), usablePageSize, logger)
	if err != nil {
		return err
	}
	for _, t := range c.filterSelected(objects) {
		sig, err := dissect.BuildTableSignature(context.Background(), db.PageSource(), usablePageSize, t)
		if err != nil {
			logger.Warn("signature build failed for "+t.Name+": "+err.Error(), -1, -1)
			continue
		}
		fmt.Printf("%s\tprobabilistic=%v\tcolumns=%d\n", t.Name, sig.Probabilistic, len(sig.Columns))
	}
	return nil
}

func (c *cli) filterSelected(objects []schema.Object) []schema.Object {
	tables := dissect.FilterTables(objects, toSet(c.ExemptedTables))
	only := toSetOrNil(c.Tables)
	if only == nil {
		return tables
	}
	var out []schema.Object
	for _, t := range tables {
		if only[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func toSetOrNil(names []string) map[string]bool {
	return toSet(names)
}
