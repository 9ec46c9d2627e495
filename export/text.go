package export

import (
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/text/encoding/unicode"

	"github.com/sqlitedissect/dissect/dissecterr"
)

// TextSink is the reference Sink implementation: it writes every
// commit as a tab-separated diagnostic report, grouped by change kind.
// It exists to exercise and test the Sink interface end-to-end, not as
// a substitute for the text/CSV/SQLite/XLSX/case-system exporters the
// core treats as external collaborators.
type TextSink struct {
	w *tabwriter.Writer
}

// NewTextSink wraps w in a tabwriter with the same column padding the
// teacher's console formatter used.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

// Emit writes one Commit's rows grouped by kind, then flushes.
func (s *TextSink) Emit(c Commit) error {
	fmt.Fprintf(s.w, "%s\tversion %d\t%s\t%s\troot %d\n", c.TableName, c.Version, c.FileType, c.PageType, c.RootPage)

	writeGroup := func(label string, cells []Cell) {
		for _, cell := range cells {
			fmt.Fprintf(s.w, "  %s\trowid %d\t%s\n", label, cell.RowID, formatValues(cell.Values, c.TextEncoding))
		}
	}
	writeGroup("added", c.Added)
	for _, cell := range c.Updated {
		fmt.Fprintf(s.w, "  %s\trowid %d\t%s\t->\t%s\n", "updated", cell.RowID, formatValues(cell.Before, c.TextEncoding), formatValues(cell.Values, c.TextEncoding))
	}
	writeGroup("deleted", c.Deleted)
	writeGroup("carved", c.Carved)

	if err := s.w.Flush(); err != nil {
		return dissecterr.Wrap(dissecterr.KindExportError, "emit", err)
	}
	return nil
}

func formatValues(values []Value, textEncoding string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += formatValue(v, textEncoding)
	}
	return out
}

func formatValue(v Value, textEncoding string) string {
	switch v.Kind {
	case ValueNull:
		return "NULL"
	case ValueInteger:
		return fmt.Sprintf("%d", v.Integer)
	case ValueFloat:
		return fmt.Sprintf("%g", v.Float)
	case ValueBytes:
		return fmt.Sprintf("<blob %d bytes>", len(v.Bytes))
	case ValueText:
		return decodeText(v.Bytes, textEncoding)
	default:
		return ""
	}
}

// decodeText transcodes a TEXT column's raw database-encoding bytes to
// UTF-8 for display. The core (Value.Bytes) never transcodes; that
// stays the database's own declared encoding so a byte-exact sink
// (SQLite, a case system) can re-emit it untouched. A report sink like
// this one has no such obligation, so it decodes UTF-16LE/BE here
// rather than printing raw little/big-endian code units as mojibake.
func decodeText(b []byte, textEncoding string) string {
	var enc = unicode.UTF8
	switch textEncoding {
	case "UTF-16LE":
		enc = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case "UTF-16BE":
		enc = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	default:
		return string(b)
	}
	decoded, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}
