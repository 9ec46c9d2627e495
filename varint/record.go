package varint

import (
	"math"

	"github.com/sqlitedissect/dissect/dissecterr"
)

// ValueKind identifies the storage class of a decoded record column.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindFloat
	KindBlob
	KindText
)

// Value is one decoded record column. TEXT columns carry their raw
// database-encoding bytes unmodified; transcoding to UTF-8 (or
// whatever the caller wants) is the exporter's responsibility, per
// the recovery engine's scope.
type Value struct {
	Kind       ValueKind
	SerialType int64
	Integer    int64
	Float      float64
	Bytes      []byte // BLOB content, or raw TEXT bytes
}

// RecordHeader is the decoded `[header_size, serial_type_1..N]`
// prefix of a record.
type RecordHeader struct {
	HeaderSize  int64
	SerialTypes []int64
}

// DecodeRecordHeader reads a record header starting at offset in
// body. The header's own length varint is included in HeaderSize, so
// the loop below stops exactly at header_size bytes from the start of
// the header (not from offset+bytesRead).
func DecodeRecordHeader(body []byte, offset int) (RecordHeader, int, error) {
	start := offset
	headerSize, n, err := Decode(body, offset)
	if err != nil {
		return RecordHeader{}, offset, dissecterr.Wrap(dissecterr.KindRecordParsing, "decode_record_header", err)
	}
	offset += n

	headerEnd := start + int(headerSize)
	if headerSize < int64(n) || headerEnd > len(body) {
		return RecordHeader{}, offset, dissecterr.New(dissecterr.KindRecordParsing, "decode_record_header", "header size out of range").
			WithContext(map[string]any{"header_size": headerSize, "body_len": len(body)})
	}

	var serialTypes []int64
	for offset < headerEnd {
		st, read, err := Decode(body, offset)
		if err != nil {
			return RecordHeader{}, offset, dissecterr.Wrap(dissecterr.KindRecordParsing, "decode_record_header", err)
		}
		serialTypes = append(serialTypes, st)
		offset += read
	}

	return RecordHeader{HeaderSize: headerSize, SerialTypes: serialTypes}, headerEnd, nil
}

// DecodeRecordBody decodes the column values following a record
// header. It returns as many values as it could decode and a
// truncated flag when body ran out before every column's content
// could be read — the carver relies on partial results rather than
// an all-or-nothing failure.
func DecodeRecordBody(body []byte, offset int, header RecordHeader) ([]Value, bool, error) {
	values := make([]Value, 0, len(header.SerialTypes))
	truncated := false

	for _, st := range header.SerialTypes {
		size, err := ContentSize(st)
		if err != nil {
			return values, truncated, err
		}
		if offset+size > len(body) {
			truncated = true
			break
		}
		v, err := decodeContent(st, body[offset:offset+size])
		if err != nil {
			return values, truncated, err
		}
		values = append(values, v)
		offset += size
	}

	return values, truncated, nil
}

// decodeContent decodes the raw content bytes of a single column
// given its serial type (the "get_record_content" operation).
func decodeContent(serialType int64, data []byte) (Value, error) {
	switch {
	case serialType == 0:
		return Value{Kind: KindNull, SerialType: serialType}, nil
	case serialType == 8:
		return Value{Kind: KindInteger, SerialType: serialType, Integer: 0}, nil
	case serialType == 9:
		return Value{Kind: KindInteger, SerialType: serialType, Integer: 1}, nil
	case serialType == 7:
		bits := beUint64(data)
		return Value{Kind: KindFloat, SerialType: serialType, Float: math.Float64frombits(bits)}, nil
	case serialType >= 1 && serialType <= 6:
		return Value{Kind: KindInteger, SerialType: serialType, Integer: decodeSignedBE(data)}, nil
	case IsBlob(serialType):
		return Value{Kind: KindBlob, SerialType: serialType, Bytes: data}, nil
	case IsText(serialType):
		return Value{Kind: KindText, SerialType: serialType, Bytes: data}, nil
	default:
		return Value{}, dissecterr.New(dissecterr.KindRecordParsing, "decode_content", "reserved or invalid serial type").
			WithContext(map[string]any{"serial_type": serialType})
	}
}

// decodeSignedBE decodes a big-endian two's-complement integer of 1,
// 2, 3, 4, 6, or 8 bytes (SQLite's i8/i16/i24/i32/i48/i64 classes),
// sign-extending from whatever width is present.
func decodeSignedBE(data []byte) int64 {
	var u uint64
	for _, b := range data {
		u = (u << 8) | uint64(b)
	}
	bits := uint(len(data)) * 8
	shift := 64 - bits
	return int64(u<<shift) >> shift
}

func beUint64(data []byte) uint64 {
	var u uint64
	for _, b := range data {
		u = (u << 8) | uint64(b)
	}
	return u
}
