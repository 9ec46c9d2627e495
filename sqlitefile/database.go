// Package sqlitefile opens a SQLite database file, validates its
// header, and exposes random-access page reads backed by a read-only
// memory map (or io.ReaderAt when mapping fails) behind an LRU page
// cache (component C4).
package sqlitefile

import (
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/dissectlog"
	"github.com/sqlitedissect/dissect/page"
)

// Config holds the options a Database is opened with.
type Config struct {
	StrictFormatChecking bool
	CacheSize            int
	Logger               *dissectlog.Logger
}

// Option configures a Database at Open time.
type Option func(*Config)

// WithStrictFormatChecking toggles the additional header consistency
// checks (see page.DecodeHeader); recovery work on damaged files
// normally leaves this off.
func WithStrictFormatChecking(strict bool) Option {
	return func(c *Config) { c.StrictFormatChecking = strict }
}

// WithCacheSize sets the number of pages kept in the LRU page cache.
func WithCacheSize(n int) Option {
	return func(c *Config) { c.CacheSize = n }
}

// WithLogger attaches a logger; defaults to a discarding logger.
func WithLogger(l *dissectlog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() Config {
	return Config{
		StrictFormatChecking: false,
		CacheSize:            256,
		Logger:               dissectlog.Discard(),
	}
}

// Database is a read-only view over a SQLite database file.
type Database struct {
	path   string
	file   *os.File
	mapped mmap.MMap // nil if mmap was unavailable; falls back to ReaderAt
	size   int64
	header page.DatabaseHeader
	cache  *lru.Cache[uint32, []byte]
	cfg    Config
}

// Open opens path, validates its header, and prepares page access.
func Open(path string, opts ...Option) (*Database, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, dissecterr.Wrap(dissecterr.KindDatabaseParsing, "open", err).
			WithContext(map[string]any{"path": path})
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dissecterr.Wrap(dissecterr.KindDatabaseParsing, "stat", err)
	}
	if info.Size() < page.HeaderSize {
		f.Close()
		return nil, dissecterr.New(dissecterr.KindDatabaseParsing, "open", "file too short to be a SQLite database").
			WithContext(map[string]any{"size": info.Size(), "path": path})
	}

	db := &Database{path: path, file: f, size: info.Size(), cfg: cfg}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		cfg.Logger.Warn("mmap unavailable, falling back to ReaderAt: "+err.Error(), -1, -1)
	} else {
		db.mapped = mapped
	}

	cache, err := lru.New[uint32, []byte](cfg.CacheSize)
	if err != nil {
		db.closeMapping()
		f.Close()
		return nil, dissecterr.Wrap(dissecterr.KindDatabaseParsing, "open", err)
	}
	db.cache = cache

	headerBytes, err := db.readAt(0, page.HeaderSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	header, err := page.DecodeHeader(headerBytes, cfg.StrictFormatChecking)
	if err != nil {
		db.Close()
		return nil, err
	}
	db.header = header

	return db, nil
}

// Close releases the underlying file and any mapping.
func (db *Database) Close() error {
	db.closeMapping()
	if db.file != nil {
		return db.file.Close()
	}
	return nil
}

func (db *Database) closeMapping() {
	if db.mapped != nil {
		_ = db.mapped.Unmap()
		db.mapped = nil
	}
}

// Header returns the decoded database header.
func (db *Database) Header() page.DatabaseHeader {
	return db.header
}

// PageCount returns the number of pages the file physically holds,
// computed from file size rather than trusted from the header's
// (possibly stale or corrupted) size-in-pages field.
func (db *Database) PageCount() uint32 {
	return uint32(db.size / int64(db.header.PageSize))
}

// Page returns the full pageSize-byte content of page number n
// (1-based). Page 1 includes the leading 100-byte database header.
func (db *Database) Page(n uint32) ([]byte, error) {
	if n == 0 {
		return nil, dissecterr.New(dissecterr.KindPageParsing, "page", "page numbers are 1-based")
	}
	if cached, ok := db.cache.Get(n); ok {
		return cached, nil
	}

	offset := int64(n-1) * int64(db.header.PageSize)
	data, err := db.readAt(offset, db.header.PageSize)
	if err != nil {
		return nil, dissecterr.Wrap(dissecterr.KindPageParsing, "page", err).
			WithContext(map[string]any{"page_number": n})
	}

	db.cache.Add(n, data)
	return data, nil
}

// PageSource adapts Page to page.PageSource for overflow-chain
// and b-tree traversal callers.
func (db *Database) PageSource() page.PageSource {
	return db.Page
}

// BTreeBody returns the page's full bytes together with the offset at
// which its b-tree header begins: page.HeaderSize for page 1, which
// carries the database header first, and 0 for every other page.
func (db *Database) BTreeBody(n uint32, full []byte) (body []byte, headerOffset int) {
	if n == 1 {
		return full, page.HeaderSize
	}
	return full, 0
}

func (db *Database) readAt(offset int64, length int) ([]byte, error) {
	if offset+int64(length) > db.size {
		return nil, dissecterr.New(dissecterr.KindDatabaseParsing, "read_at", "read past end of file").
			WithContext(map[string]any{"offset": offset, "length": length, "size": db.size})
	}
	if db.mapped != nil {
		out := make([]byte, length)
		copy(out, db.mapped[offset:offset+int64(length)])
		return out, nil
	}

	buf := make([]byte, length)
	if _, err := db.file.ReadAt(buf, offset); err != nil {
		return nil, dissecterr.Wrap(dissecterr.KindDatabaseParsing, "read_at", err)
	}
	return buf, nil
}
