// Package varint implements SQLite's variable-length integer encoding
// and the record header/body codec built on top of it (component C1
// of the recovery engine: every other package decodes bytes by
// calling into this one).
package varint

import "github.com/sqlitedissect/dissect/dissecterr"

// MaxLen is the longest a canonical SQLite varint can be: 8 bytes
// contributing 7 bits each plus a 9th byte contributing all 8 bits.
const MaxLen = 9

// Decode reads a signed SQLite varint starting at offset in data and
// returns its value and the number of bytes consumed (1-9). Bytes 1-8
// use their low 7 bits with the high bit as a continuation flag; byte
// 9, if reached, contributes all 8 bits unshifted. Any value needing
// its full 64-bit, two's-complement bit pattern (including every
// negative value) always takes the full 9-byte form; shorter forms
// are unsigned by construction and need no sign extension.
func Decode(data []byte, offset int) (int64, int, error) {
	if offset < 0 || offset >= len(data) {
		return 0, 0, dissecterr.New(dissecterr.KindInvalidVarInt, "decode", "offset out of range").
			WithContext(map[string]any{"offset": offset, "len": len(data)})
	}

	var result uint64
	for i := 0; i < MaxLen; i++ {
		if offset+i >= len(data) {
			return 0, 0, dissecterr.New(dissecterr.KindInvalidVarInt, "decode", "truncated varint").
				WithContext(map[string]any{"offset": offset})
		}
		b := data[offset+i]
		if i == MaxLen-1 {
			result = (result << 8) | uint64(b)
			return int64(result), i + 1, nil
		}
		result = (result << 7) | uint64(b&0x7F)
		if b&0x80 == 0 {
			return int64(result), i + 1, nil
		}
	}
	return 0, 0, dissecterr.New(dissecterr.KindInvalidVarInt, "decode", "varint exceeds 9 bytes")
}

// Encode returns the canonical (minimal-length) big-endian varint
// encoding of v, following SQLite's own sqlite3PutVarint: values
// whose top 8 bits are non-zero (every negative int64, viewed as
// uint64) always take the full 9-byte form; everything else is
// packed into the fewest 7-bit groups that hold it, most-significant
// group first, high bit set on every byte but the last.
func Encode(v int64) []byte {
	u := uint64(v)

	if u&(uint64(0xff000000)<<32) != 0 {
		out := make([]byte, 9)
		out[8] = byte(u)
		u >>= 8
		for i := 7; i >= 0; i-- {
			out[i] = byte(u&0x7f) | 0x80
			u >>= 7
		}
		return out
	}

	var buf [9]byte
	n := 0
	for {
		buf[n] = byte(u&0x7f) | 0x80
		u >>= 7
		n++
		if u == 0 {
			break
		}
	}
	buf[0] &^= 0x80

	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = buf[n-1-i]
	}
	return out
}

// DecodeReverse walks backward from offset-1 in data, attempting to
// recover a varint whose last byte sits at offset-1. The byte at
// offset-1 is always treated as the varint's terminal byte (free-form
// for a 9-byte varint, MSB-clear otherwise); the scan then grows the
// candidate length one byte at a time for as long as the next byte
// further back has its continuation bit (0x80) set, stopping at the
// first byte that doesn't, or once maxLen bytes have been consumed.
// It returns the value, the start offset of the varint, and an error
// if the scan runs off the start of the buffer before terminating.
// Used only by the carver to probe bytes preceding a matched
// record-header fragment, where the varint's start is unknown but its
// end is; because a preceding, unrelated byte can coincidentally have
// its high bit set, this can overrun into data that isn't part of the
// varint at all (see the probability-threshold open question in
// spec.md §9) — callers must independently validate the result.
func DecodeReverse(data []byte, offset int, maxLen int) (uint64, int, error) {
	if maxLen <= 0 || maxLen > MaxLen {
		maxLen = MaxLen
	}
	if offset <= 0 || offset > len(data) {
		return 0, 0, dissecterr.New(dissecterr.KindInvalidVarInt, "decode_reverse", "offset out of range")
	}

	n := 1
	for n < maxLen {
		checkPos := offset - n - 1
		if checkPos < 0 {
			break
		}
		if data[checkPos]&0x80 == 0 {
			break
		}
		n++
	}

	start := offset - n
	if start < 0 {
		return 0, 0, dissecterr.New(dissecterr.KindInvalidVarInt, "decode_reverse", "hit buffer start mid-varint").
			WithContext(map[string]any{"offset": offset})
	}

	v, read, err := Decode(data, start)
	if err != nil {
		return 0, 0, dissecterr.Wrap(dissecterr.KindInvalidVarInt, "decode_reverse", err)
	}
	if read != n {
		return 0, 0, dissecterr.New(dissecterr.KindInvalidVarInt, "decode_reverse", "forward re-decode length mismatch").
			WithContext(map[string]any{"offset": offset, "expected_len": n, "got_len": read})
	}
	return uint64(v), start, nil
}
