// Package dissecterr defines the error taxonomy shared across the
// recovery engine: every decoder and carver wraps failures in an
// *Error tagged with a Kind, so callers can branch on errors.As
// without depending on any one package's internal error values.
package dissecterr

import "fmt"

// Kind identifies a node in the error taxonomy described by the
// recovery engine's error handling design. Kinds nest conceptually
// (HeaderParsing is a Parsing is a Sqlite error), but that nesting is
// documentation only: Kind is a flat enum and Is compares it for exact
// equality, never ancestry.
type Kind int

const (
	KindUnknown Kind = iota
	KindSqlite
	KindParsing
	KindHeaderParsing
	KindMasterSchemaParsing
	KindMasterSchemaRowParsing
	KindPageParsing
	KindBTreePageParsing
	KindCellParsing
	KindRecordParsing
	KindVersionParsing
	KindDatabaseParsing
	KindWalParsing
	KindWalFrameParsing
	KindWalCommitRecordParsing
	KindSignatureError
	KindCarvingError
	KindCellCarvingError
	KindInvalidVarInt
	KindOutputError
	KindExportError
	KindCommitParsing
	KindJournalParsing
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindSqlite:                 "Sqlite",
	KindParsing:                "Parsing",
	KindHeaderParsing:          "HeaderParsing",
	KindMasterSchemaParsing:    "MasterSchemaParsing",
	KindMasterSchemaRowParsing: "MasterSchemaRowParsing",
	KindPageParsing:            "PageParsing",
	KindBTreePageParsing:       "BTreePageParsing",
	KindCellParsing:            "CellParsing",
	KindRecordParsing:          "RecordParsing",
	KindVersionParsing:         "VersionParsing",
	KindDatabaseParsing:        "DatabaseParsing",
	KindWalParsing:             "WalParsing",
	KindWalFrameParsing:        "WalFrameParsing",
	KindWalCommitRecordParsing: "WalCommitRecordParsing",
	KindSignatureError:         "SignatureError",
	KindCarvingError:           "CarvingError",
	KindCellCarvingError:       "CellCarvingError",
	KindInvalidVarInt:          "InvalidVarInt",
	KindOutputError:            "OutputError",
	KindExportError:            "ExportError",
	KindCommitParsing:          "CommitParsing",
	KindJournalParsing:         "JournalParsing",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error is the concrete error type every component returns. Context
// carries structured diagnostic fields (page number, offset,
// component name, ...) so the caller can log them without parsing
// the message string.
type Error struct {
	Kind      Kind
	Operation string
	Err       error
	Context   map[string]any
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, operation, message string) *Error {
	return &Error{Kind: kind, Operation: operation, Err: fmt.Errorf("%s", message)}
}

// Wrap builds an *Error around an existing error.
func Wrap(kind Kind, operation string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Operation: operation, Err: err}
}

// WithContext attaches structured diagnostic fields and returns the
// receiver for chaining.
func (e *Error) WithContext(ctx map[string]any) *Error {
	e.Context = ctx
	return e
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v (context: %+v)", e.Kind, e.Operation, e.Err, e.Context)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, dissecterr.New(KindCarvingError, "", "")) style
// checks work without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err if it (or something it wraps) is
// an *Error, else KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if e == nil {
		return KindUnknown
	}
	return e.Kind
}
