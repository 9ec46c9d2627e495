package varint

import "github.com/sqlitedissect/dissect/dissecterr"

// Simplified serial type identifiers used by the signature builder
// and carver: every BLOB-class serial type collapses to BlobID and
// every TEXT-class serial type collapses to TextID, while the
// fixed-width numeric classes (0-9) keep their own serial type value.
const (
	BlobID = -1
	TextID = -2
)

// ContentSize returns the number of payload bytes a column with the
// given serial type occupies, per the SQLite record format. Serial
// types 10 and 11 are reserved and unused by any SQLite version;
// negative serial types never appear on disk.
func ContentSize(serialType int64) (int, error) {
	switch {
	case serialType < 0:
		return 0, dissecterr.New(dissecterr.KindRecordParsing, "content_size", "negative serial type").
			WithContext(map[string]any{"serial_type": serialType})
	case serialType == 0, serialType == 8, serialType == 9:
		return 0, nil
	case serialType == 1:
		return 1, nil
	case serialType == 2:
		return 2, nil
	case serialType == 3:
		return 3, nil
	case serialType == 4:
		return 4, nil
	case serialType == 5:
		return 6, nil
	case serialType == 6, serialType == 7:
		return 8, nil
	case serialType == 10 || serialType == 11:
		return 0, dissecterr.New(dissecterr.KindRecordParsing, "content_size", "reserved serial type").
			WithContext(map[string]any{"serial_type": serialType})
	case serialType >= 12 && serialType%2 == 0:
		return int((serialType - 12) / 2), nil
	default: // >= 13 and odd
		return int((serialType - 13) / 2), nil
	}
}

// Simplify collapses a serial type to its simplified form: fixed-
// width classes 0-9 pass through unchanged, BLOBs become BlobID and
// TEXTs become TextID.
func Simplify(serialType int64) int64 {
	switch {
	case serialType >= 0 && serialType <= 9:
		return serialType
	case serialType >= 12 && serialType%2 == 0:
		return BlobID
	default:
		return TextID
	}
}

// IsBlob reports whether serialType denotes a BLOB column.
func IsBlob(serialType int64) bool {
	return serialType >= 12 && serialType%2 == 0
}

// IsText reports whether serialType denotes a TEXT column.
func IsText(serialType int64) bool {
	return serialType >= 13 && serialType%2 == 1
}
