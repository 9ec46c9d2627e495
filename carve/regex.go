// Package carve scans unallocated page space and freeblocks for
// record fragments consistent with a table's signature, recovering
// deleted rows that never made it into any WAL frame (component C9).
package carve

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/signature"
	"github.com/sqlitedissect/dissect/varint"
)

// classRangePattern builds the pattern that matches a single- or multi-byte varint
// serial type in the BLOB/TEXT simplified classes: either one byte in
// [lowerBound, 0x7F], or a multi-byte varint of up to 7 continuation
// bytes followed by a terminal byte (9-byte varints are not supported
// here, matching the carver's own documented limitation — a record
// with gigabytes-long columns doesn't survive as a carving candidate
// anyway).
func classRangePattern(lowerBound byte) string {
	return fmt.Sprintf(`(?:[\x%02x-\x7f]|[\x80-\xff]{1,7}[\x00-\x7f])`, lowerBound)
}

func literalByte(b byte) string {
	return regexp.QuoteMeta(string([]byte{b}))
}

// columnPattern builds the regex fragment for one column's set of
// simplified serial types observed in ColumnSignature.Observed.
func columnPattern(observed map[int64]bool) (string, error) {
	if len(observed) == 0 {
		return "", dissecterr.New(dissecterr.KindSignatureError, "column_pattern", "column has no observed serial types")
	}

	var basics []string
	hasBlob := observed[varint.BlobID]
	hasText := observed[varint.TextID]

	for st := range observed {
		if st >= 0 && st <= 9 {
			basics = append(basics, literalByte(byte(st)))
		}
	}

	var alternatives []string
	if len(basics) > 0 {
		alternatives = append(alternatives, strings.Join(basics, "|"))
	}
	if hasBlob {
		alternatives = append(alternatives, classRangePattern(0x0C))
	}
	if hasText {
		alternatives = append(alternatives, classRangePattern(0x0D))
	}

	if len(alternatives) == 0 {
		return "", dissecterr.New(dissecterr.KindSignatureError, "column_pattern", "no valid simplified serial types in column")
	}
	if len(alternatives) == 1 {
		return "(?:" + alternatives[0] + ")", nil
	}
	return "(?:" + strings.Join(alternatives, "|") + ")", nil
}

// CompileSignature builds the regular expression matching a record
// header whose serial types are consistent with sig, one capture
// group per column so a match can be decoded back into per-column
// varint boundaries. skipFirst omits the first column's pattern
// (used for freeblock candidates, where the freeblock's own next-
// pointer/size header may have overwritten the first few content
// bytes of the record that used to occupy that space).
func CompileSignature(sig signature.Signature, skipFirst bool) (*regexp.Regexp, error) {
	cols := sig.Columns
	if skipFirst {
		if len(cols) == 0 {
			return nil, dissecterr.New(dissecterr.KindSignatureError, "compile_signature", "cannot skip first column of empty signature")
		}
		cols = cols[1:]
	}

	var pattern strings.Builder
	for _, col := range cols {
		p, err := columnPattern(col.Observed)
		if err != nil {
			return nil, err
		}
		pattern.WriteString("(" + p + ")")
	}

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, dissecterr.Wrap(dissecterr.KindSignatureError, "compile_signature", err)
	}
	return re, nil
}

// encodeBytes re-encodes data so every byte becomes exactly one UTF-8
// code point (U+0000..U+00FF), plus a table mapping each emitted code
// point's starting offset in the result back to the original byte
// offset it came from (with one sentinel entry for the very end).
//
// Go's regexp decodes its input as UTF-8 before matching: a byte >=
// 0x80 that doesn't head a valid UTF-8 sequence decodes to U+FFFD, so
// a raw class like [\x80-\xff] can never match it against unencoded
// binary page content — it only ever fires on bytes that happen to
// form valid multi-byte UTF-8 runes, which real record bytes usually
// don't. Re-encoding first gives every byte its own valid, distinct
// rune the class can match; since the regex only ever matches whole
// runes, every match boundary in the encoded stream lands exactly on
// one of this table's offsets.
func encodeBytes(data []byte) (encoded []byte, origOffset map[int]int) {
	encoded = make([]byte, 0, len(data)*2)
	origOffset = make(map[int]int, len(data)+1)
	for i, b := range data {
		origOffset[len(encoded)] = i
		encoded = utf8.AppendRune(encoded, rune(b))
	}
	origOffset[len(encoded)] = len(data)
	return encoded, origOffset
}

// findAllByteIndex is FindAllIndex over raw bytes rather than runes:
// it encodes region via encodeBytes, matches re against the encoded
// form, and translates every match's bounds back to offsets into
// region.
func findAllByteIndex(re *regexp.Regexp, region []byte) [][]int {
	encoded, origOffset := encodeBytes(region)
	locs := re.FindAllIndex(encoded, -1)
	out := make([][]int, 0, len(locs))
	for _, loc := range locs {
		start, startOK := origOffset[loc[0]]
		end, endOK := origOffset[loc[1]]
		if !startOK || !endOK {
			continue
		}
		out = append(out, []int{start, end})
	}
	return out
}

// findByteIndex is findAllByteIndex's single-match counterpart,
// mirroring regexp.Regexp.FindIndex.
func findByteIndex(re *regexp.Regexp, region []byte) []int {
	encoded, origOffset := encodeBytes(region)
	loc := re.FindIndex(encoded)
	if loc == nil {
		return nil
	}
	start, startOK := origOffset[loc[0]]
	end, endOK := origOffset[loc[1]]
	if !startOK || !endOK {
		return nil
	}
	return []int{start, end}
}
