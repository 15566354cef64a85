// Package wire reads the protocol buffer tag/length/value encoding used by
// GTFS-Realtime feeds. It knows nothing about message semantics: callers get
// a flat list of fields and decide what each field number means.
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pkordes/stopalert/internal/domain"
)

// WireType is the 3-bit suffix of a field tag.
type WireType uint8

// Supported wire types. Groups (3, 4) are deprecated and not produced by
// GTFS-Realtime producers, so they end decoding like any other unknown type.
const (
	Varint          WireType = 0
	Fixed64         WireType = 1
	LengthDelimited WireType = 2
	Fixed32         WireType = 5
)

func (t WireType) String() string {
	switch t {
	case Varint:
		return "varint"
	case Fixed64:
		return "fixed64"
	case LengthDelimited:
		return "length-delimited"
	case Fixed32:
		return "fixed32"
	}
	return fmt.Sprintf("wiretype(%d)", uint8(t))
}

// RawField is one decoded field. Only the value member matching Type is set.
// Bytes aliases the input buffer.
type RawField struct {
	Number int32
	Type   WireType
	Varint uint64
	Float  float64
	Bytes  []byte
}

// Int32 reinterprets a varint as a signed 32-bit value. Producers encode
// negative int32 values as large unsigned varints, so anything above
// 0x7FFFFFFF wraps around.
func (f RawField) Int32() int32 {
	return int32(uint32(f.Varint))
}

// Int64 reinterprets a varint as a signed 64-bit value.
func (f RawField) Int64() int64 {
	return int64(f.Varint)
}

// Uint32 truncates a varint to 32 bits.
func (f RawField) Uint32() uint32 {
	return uint32(f.Varint)
}

// Bool reports whether a varint field is non-zero.
func (f RawField) Bool() bool {
	return f.Varint != 0
}

// String interprets a length-delimited field as UTF-8 text.
func (f RawField) String() string {
	return string(f.Bytes)
}

// DecodeMessage splits b into its top-level fields.
//
// On an unknown wire type, an invalid tag or a truncated value, decoding stops
// and the fields read so far are returned with an error wrapping
// domain.ErrDecode. The remainder of the buffer cannot be trusted once framing
// is lost, so no attempt is made to resynchronise.
func DecodeMessage(b []byte) ([]RawField, error) {
	var fields []RawField
	offset := 0
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fields, decodeErr(offset, protowire.ParseError(n))
		}
		field := RawField{Number: int32(num), Type: WireType(typ)}
		b = b[n:]
		offset += n

		switch field.Type {
		case Varint:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fields, decodeErr(offset, protowire.ParseError(m))
			}
			field.Varint = v
			n = m
		case Fixed64:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return fields, decodeErr(offset, protowire.ParseError(m))
			}
			field.Float = math.Float64frombits(v)
			n = m
		case LengthDelimited:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fields, decodeErr(offset, protowire.ParseError(m))
			}
			field.Bytes = v
			n = m
		case Fixed32:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return fields, decodeErr(offset, protowire.ParseError(m))
			}
			field.Float = float64(math.Float32frombits(v))
			n = m
		default:
			return fields, fmt.Errorf("%w: unsupported %s for field %d at offset %d",
				domain.ErrDecode, field.Type, field.Number, offset)
		}

		fields = append(fields, field)
		b = b[n:]
		offset += n
	}
	return fields, nil
}

func decodeErr(offset int, cause error) error {
	return fmt.Errorf("%w: at offset %d: %v", domain.ErrDecode, offset, cause)
}
