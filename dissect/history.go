package dissect

import (
	"os"

	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/version"
	"github.com/sqlitedissect/dissect/wal"
)

// OpenWAL reads a WAL file wholesale and decodes its header and every
// valid frame. WAL files are read fully up front rather than memory-
// mapped: unlike the main database file, a WAL's useful lifetime in a
// forensic context is exactly one parse pass over its frames to build
// a version.History, so there's no repeated random access to amortize
// a mapping against.
func OpenWAL(path string) (wal.Header, []wal.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wal.Header{}, nil, dissecterr.Wrap(dissecterr.KindWalParsing, "open_wal", err).
			WithContext(map[string]any{"path": path})
	}

	header, err := wal.DecodeHeader(data)
	if err != nil {
		return wal.Header{}, nil, err
	}

	frames, err := wal.ReadFrames(header, data[wal.HeaderSize:])
	if err != nil {
		return header, nil, err
	}
	return header, frames, nil
}

// BuildHistory opens the WAL at walPath (if non-empty) and layers its
// committed transactions over base, producing the version.History a
// caller walks tables against. With no WAL present, the returned
// history has exactly one version: the base file itself (version 0).
func BuildHistory(base page.PageSource, pageSize int, walPath string) (*version.History, error) {
	var frames []wal.Frame
	if walPath != "" {
		if _, statErr := os.Stat(walPath); statErr == nil {
			_, readFrames, err := OpenWAL(walPath)
			if err != nil {
				return nil, err
			}
			frames = readFrames
		}
	}

	// version.Build and page.PageSource are distinct defined types
	// sharing the same underlying signature; base is already an
	// unnamed-compatible value at its call sites in sqlitefile, but
	// here it arrives typed as page.PageSource, so it's wrapped once
	// to satisfy version.PageSource's own identity.
	hist, err := version.Build(func(n uint32) ([]byte, error) { return base(n) }, pageSize, frames)
	if err != nil && hist == nil {
		return nil, err
	}
	// A dangling, never-committed trailing transaction is reported as
	// an error but still yields a usable History (its frames are just
	// dropped) — matching version.Build's own contract, exercised by
	// its TestBuildRejectsDanglingTransaction.
	return hist, nil
}
