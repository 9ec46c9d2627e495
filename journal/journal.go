// Package journal carves candidate records out of a rollback-journal
// file's page records, reusing the unallocated-space carve engine over
// each journal page verbatim (component C10). A rollback journal holds
// pre-images of pages a transaction is about to modify, captured before
// the write so SQLite can restore them on rollback; once a transaction
// commits the journal is normally deleted, but an abandoned, crashed,
// or otherwise still-present journal is itself residue worth carving,
// independent of anything the WAL or base file still show.
package journal

import (
	"encoding/binary"
	"encoding/hex"
	"regexp"

	"github.com/sqlitedissect/dissect/carve"
	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/signature"
)

// sectorSize is the fixed leading sector SQLite journals reserve for
// their own header, hard-coded rather than read from the file: recent
// SQLite versions zero most of this header out before a rollback, so
// reading a declared sector size back out of it is unreliable. 512 is
// what the library itself has used since its own early versions.
const sectorSize = 512

const (
	recordHeaderSize   = 4 // leading page-number field
	recordChecksumSize = 4 // trailing per-record checksum
)

// PageRecord is one decoded page record from a rollback-journal file:
// the page number a pre-image belongs to, plus the full page content
// as it looked immediately before the transaction that created this
// journal began modifying it.
type PageRecord struct {
	Offset      int // file offset of this record's page content (after the 4-byte page-number field)
	PageNumber  uint32
	Content     []byte
	ChecksumHex string // empty for a truncated trailing record
	Truncated   bool
}

// ReadPageRecords walks every page record in a rollback-journal file's
// bytes, starting after the fixed leading sector. pageSize is taken
// from the companion database file rather than the journal's own
// header, per the journal format's own ambiguity about where a
// reliable sector/page size can be read back out of a file that's
// often already been partially zeroed by the time it's found.
func ReadPageRecords(data []byte, pageSize int) []PageRecord {
	recordSize := recordHeaderSize + pageSize + recordChecksumSize

	var out []PageRecord
	offset := sectorSize
	for offset+recordHeaderSize <= len(data) {
		pageNumber := binary.BigEndian.Uint32(data[offset : offset+recordHeaderSize])
		contentStart := offset + recordHeaderSize

		if offset+recordSize <= len(data) {
			content := data[contentStart : contentStart+pageSize]
			checksum := data[contentStart+pageSize : contentStart+pageSize+recordChecksumSize]
			out = append(out, PageRecord{
				Offset:      contentStart,
				PageNumber:  pageNumber,
				Content:     content,
				ChecksumHex: hex.EncodeToString(checksum),
			})
			offset += recordSize
			continue
		}

		// Trailing record cut off before a full page image: keep
		// whatever page content bytes remain and carve over those,
		// with no checksum to report.
		if contentStart >= len(data) {
			break
		}
		out = append(out, PageRecord{
			Offset:     contentStart,
			PageNumber: pageNumber,
			Content:    data[contentStart:],
			Truncated:  true,
		})
		break
	}
	return out
}

// Carve scans every table-leaf (0x0D) or table-interior (0x05) page
// record in records for cells matching sig, using the full-signature
// regex fullRE. Unlike carving a live database's unallocated space,
// a journal page's own cell layout isn't decoded at all — the entire
// page record is treated as one opaque region to scan, since the
// journal pre-image may itself be stale or partially overwritten by
// the time it's found, and the live b-tree header it once had is not
// assumed trustworthy.
func Carve(records []PageRecord, fullRE *regexp.Regexp, sig signature.Signature) []carve.Candidate {
	var out []carve.Candidate
	for _, r := range records {
		if len(r.Content) == 0 {
			continue
		}
		switch r.Content[0] {
		case 0x0D, 0x05:
			out = append(out, carve.Scan(r.Content, r.PageNumber, r.Offset, fullRE, sig)...)
		}
	}
	return out
}

// ValidatePageSize reports whether pageSize is a value ReadPageRecords
// can walk records with at all (the journal format shares the
// database file's power-of-two page size constraint).
func ValidatePageSize(pageSize int) error {
	if pageSize < 512 || pageSize > 65536 || pageSize&(pageSize-1) != 0 {
		return dissecterr.New(dissecterr.KindJournalParsing, "validate_page_size", "page size must be a power of two between 512 and 65536").
			WithContext(map[string]any{"page_size": pageSize})
	}
	return nil
}
