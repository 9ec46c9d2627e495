package carve

import (
	"crypto/md5"
	"regexp"

	"github.com/sqlitedissect/dissect/dissecterr"
	"github.com/sqlitedissect/dissect/page"
	"github.com/sqlitedissect/dissect/signature"
	"github.com/sqlitedissect/dissect/varint"
)

// Candidate is one carved cell: a record recovered from unallocated
// page space or a freeblock whose shape matched a table's signature.
type Candidate struct {
	PageNumber         uint32
	Offset             int
	Header             varint.RecordHeader
	Values             []varint.Value
	Digest             [md5.Size]byte
	TruncatedBeginning           bool // first column's serial type had to be back-solved from a freeblock size field
	ProbabilisticFirstSerialType bool // TruncatedBeginning's back-solved first serial type, per the spec's probabilistic_first_serial_type flag
	ProbabilisticMatch           bool // signature used to find this candidate was a recommended/schema fallback, not observed rows
}

// Scan searches region (a byte slice pulled from a page's unallocated
// space or a single freeblock's body) for cells matching sig, using
// the full-header regex fullRE. fullRE matches only the serial-type
// byte sequence a record header declares, not the header-size varint
// that precedes it, so every match is first walked backward with
// varint.DecodeReverse to recover where the header actually starts
// before the candidate is decoded and validated.
func Scan(region []byte, pageNumber uint32, regionOffset int, fullRE *regexp.Regexp, sig signature.Signature) []Candidate {
	var out []Candidate
	locs := findAllByteIndex(fullRE, region)
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		headerStart, ok := locateHeaderStart(region, start, end)
		if !ok {
			continue
		}
		cand, ok := tryDecode(region, headerStart, pageNumber, regionOffset, sig, false)
		if ok {
			out = append(out, cand)
		}
	}
	return out
}

// locateHeaderStart recovers the offset of a record header's leading
// header-size varint given the bounds of a regex match against only
// the serial-type bytes that follow it: it walks backward from start
// with varint.DecodeReverse and accepts the result only if the
// recovered varint's declared value equals the header's true total
// length (its own byte length plus the matched serial-type bytes) —
// rejecting the coincidental false positives DecodeReverse documents.
func locateHeaderStart(region []byte, start, end int) (int, bool) {
	value, headerStart, err := varint.DecodeReverse(region, start, varint.MaxLen)
	if err != nil {
		return 0, false
	}
	wantSize := int64(end - headerStart)
	if int64(value) != wantSize {
		return 0, false
	}
	return headerStart, true
}

// ScanFreeblock is the freeblock-specific two-pass scan: a freeblock
// overwrites the first 4 bytes of whatever cell used to occupy that
// space with its own next-pointer and size fields, which usually
// destroys the record's header-size varint and its first column's
// serial type (each typically 1 byte for a narrow table). The first
// pass runs the full-signature regex as Scan does anywhere in the
// freeblock's body, for the case where the destroyed bytes happened to
// fall before the record entirely (e.g. a long row id absorbed the
// damage). If nothing validates, the second pass locates columns 1..N
// with partialRE (the skip-first-column signature) and reconstructs
// column 0 by arithmetic: the freeblock's own byte size stands in for
// the record's total length, which combined with the now-known size of
// columns 1..N's headers and content leaves exactly one unknown —
// column 0's content size — matched back against the single
// fixed-width serial type in the signature's first column whose
// content size agrees (variable-length BLOB/TEXT first columns can't
// be resolved this way, since their size isn't fixed by their serial
// type alone).
func ScanFreeblock(fb page.Freeblock, data []byte, pageNumber uint32, fullRE, partialRE *regexp.Regexp, sig signature.Signature) []Candidate {
	body := data[fb.Offset : fb.Offset+fb.Size]

	full := Scan(body, pageNumber, fb.Offset, fullRE, sig)
	if len(full) > 0 {
		return full
	}

	if len(sig.Columns) < 2 || fb.Size <= 4 {
		return nil
	}
	loc := findByteIndex(partialRE, body[4:])
	if loc == nil {
		return nil
	}
	matchStart := 4 + loc[0]

	cand, ok := tryDecodePartial(body, matchStart, pageNumber, fb.Offset, sig, fb.Size)
	if !ok {
		return nil
	}
	return []Candidate{cand}
}

// tryDecode attempts to decode a full record (including its first
// column's serial type) starting at offset within region.
func tryDecode(region []byte, offset int, pageNumber uint32, regionOffset int, sig signature.Signature, truncated bool) (Candidate, bool) {
	header, bodyOffset, err := varint.DecodeRecordHeader(region, offset)
	if err != nil {
		return Candidate{}, false
	}
	if !sig.Matches(header) {
		return Candidate{}, false
	}
	values, recordTruncated, err := varint.DecodeRecordBody(region, bodyOffset, header)
	if err != nil || recordTruncated {
		return Candidate{}, false
	}

	return Candidate{
		PageNumber:         pageNumber,
		Offset:             regionOffset + offset,
		Header:             header,
		Values:             values,
		Digest:             digestOf(values),
		TruncatedBeginning: truncated,
		ProbabilisticMatch: !sig.Probabilistic,
	}, true
}

// tryDecodePartial reconstructs a freeblock-carved record whose
// header-size varint and first column's serial type were destroyed by
// the freeblock's own 4-byte header. matchStart is where column 1's
// serial type begins (from partialRE). Columns 1..N decode and
// validate normally; column 0's serial type can't be read directly, so
// it's inferred from the record's approximate total length (the
// freeblock's byte size) minus every byte now accounted for — what's
// left over is column 0's content size, matched back against the one
// fixed-width candidate serial type that produces it. The resulting
// candidate always carries ProbabilisticFirstSerialType: that back-
// solved serial type, not whether the signature itself was a
// recommended/schema fallback (ProbabilisticMatch), which is a
// separate and independent axis.
func tryDecodePartial(body []byte, matchStart int, pageNumber uint32, regionOffset int, sig signature.Signature, freeblockSize int) (Candidate, bool) {
	n := len(sig.Columns)
	serialTypes := make([]int64, n)
	offset := matchStart
	knownContentSize := 0
	for i := 1; i < n; i++ {
		st, read, err := varint.Decode(body, offset)
		if err != nil {
			return Candidate{}, false
		}
		if !sig.Columns[i].Observed[varint.Simplify(st)] {
			return Candidate{}, false
		}
		size, err := varint.ContentSize(st)
		if err != nil {
			return Candidate{}, false
		}
		serialTypes[i] = st
		knownContentSize += size
		offset += read
	}
	headerEnd := offset

	// destroyedHeaderBytes is how much of the header-size varint and
	// column 0's serial type sat before matchStart, between the end of
	// the freeblock's own 4-byte next-pointer/size fields and the match.
	destroyedHeaderBytes := matchStart - 4
	recordStart := matchStart - destroyedHeaderBytes // == 4; the freeblock's assumed record start

	payloadSize := freeblockSize - 4
	firstContentSize := payloadSize - destroyedHeaderBytes - (headerEnd - matchStart) - knownContentSize
	if firstContentSize < 0 {
		return Candidate{}, false
	}

	firstSerialType, ok := matchContentSize(sig.Columns[0], firstContentSize)
	if !ok {
		return Candidate{}, false
	}
	serialTypes[0] = firstSerialType

	header := varint.RecordHeader{SerialTypes: serialTypes}
	values, recordTruncated, err := varint.DecodeRecordBody(body, headerEnd, header)
	if err != nil || recordTruncated {
		return Candidate{}, false
	}

	return Candidate{
		PageNumber:                   pageNumber,
		Offset:                       regionOffset + recordStart,
		Header:                       header,
		Values:                       values,
		Digest:                       digestOf(values),
		TruncatedBeginning:           true,
		ProbabilisticFirstSerialType: true,
		ProbabilisticMatch:           !sig.Probabilistic,
	}, true
}

// matchContentSize finds the single fixed-width serial type (0-9) in
// col's observed set whose content size equals size. Variable-length
// BLOB/TEXT candidates are skipped, since their content size varies
// and can't be recovered from size alone; an absent or ambiguous match
// is rejected rather than guessed.
func matchContentSize(col signature.ColumnSignature, size int) (int64, bool) {
	var found int64
	count := 0
	for st := int64(0); st <= 9; st++ {
		if !col.Observed[st] {
			continue
		}
		got, err := varint.ContentSize(st)
		if err != nil || got != size {
			continue
		}
		found = st
		count++
	}
	if count != 1 {
		return 0, false
	}
	return found, true
}

// DigestOf computes the same MD5 identity digest a Candidate carries,
// exported so the commit/diff engine can compute a comparable digest
// for live (non-carved) rows and recognize when a carved row is
// actually a duplicate of one already present in a live b-tree walk.
func DigestOf(values []varint.Value) [md5.Size]byte {
	return digestOf(values)
}

// digestOf computes the MD5 identity digest of a carved cell's
// decoded values, used by the commit/diff engine to recognize the
// same carved row recovered redundantly from more than one scan.
func digestOf(values []varint.Value) [md5.Size]byte {
	h := md5.New()
	for _, v := range values {
		h.Write([]byte{byte(v.Kind)})
		switch v.Kind {
		case varint.KindInteger:
			h.Write(int64Bytes(v.Integer))
		case varint.KindFloat:
			h.Write(int64Bytes(int64(v.Float)))
		default:
			h.Write(v.Bytes)
		}
	}
	var out [md5.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func int64Bytes(v int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
	return b
}

// ValidationError wraps a rejected candidate's reason for diagnostic
// logging without aborting the scan.
func ValidationError(reason string) error {
	return dissecterr.New(dissecterr.KindCellCarvingError, "validate_candidate", reason)
}
