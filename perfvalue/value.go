package perfvalue

import (
	"encoding/binary"
	"math"
	"net/netip"

	"github.com/google/uuid"
)

// A PerfValue is a borrowed, typed view onto a field's raw bytes. It
// is produced by tracefmt.FieldFormat.Value or by the EventHeader
// enumerator (perfjson also builds single-element views out of an
// array value).
//
// All accessors are total functions: they assume the producer placed
// Bytes, ElementSize and ElementCount in range and do not re-check
// bounds.
type PerfValue struct {
	Bytes        []byte
	Encoding     Encoding
	Format       Format
	ElementCount int // 1 for scalars, N for arrays
	ElementSize  int // fixed element size, or 0 for variable-length elements
	FieldTag     uint16
	Order        binary.ByteOrder
}

// IsArrayOrElement reports whether an array flag is set on Encoding
// or ElementCount != 1. An array element produced by the EventHeader
// enumerator carries only the base encoding and an ElementCount of 1,
// so it reports false.
func (v PerfValue) IsArrayOrElement() bool {
	return v.Encoding.IsArray() || v.ElementCount != 1
}

func (v PerfValue) elem(i int) []byte {
	off := i * v.ElementSize
	return v.Bytes[off : off+v.ElementSize]
}

func (v PerfValue) U8() uint8   { return v.Bytes[0] }
func (v PerfValue) I8() int8    { return int8(v.Bytes[0]) }
func (v PerfValue) U16() uint16 { return v.Order.Uint16(v.Bytes) }
func (v PerfValue) I16() int16  { return int16(v.Order.Uint16(v.Bytes)) }
func (v PerfValue) U32() uint32 { return v.Order.Uint32(v.Bytes) }
func (v PerfValue) I32() int32  { return int32(v.Order.Uint32(v.Bytes)) }
func (v PerfValue) U64() uint64 { return v.Order.Uint64(v.Bytes) }
func (v PerfValue) I64() int64  { return int64(v.Order.Uint64(v.Bytes)) }
func (v PerfValue) F32() float32 {
	return math.Float32frombits(v.Order.Uint32(v.Bytes))
}
func (v PerfValue) F64() float64 {
	return math.Float64frombits(v.Order.Uint64(v.Bytes))
}

func (v PerfValue) U8At(i int) uint8   { return v.elem(i)[0] }
func (v PerfValue) I8At(i int) int8    { return int8(v.elem(i)[0]) }
func (v PerfValue) U16At(i int) uint16 { return v.Order.Uint16(v.elem(i)) }
func (v PerfValue) I16At(i int) int16  { return int16(v.Order.Uint16(v.elem(i))) }
func (v PerfValue) U32At(i int) uint32 { return v.Order.Uint32(v.elem(i)) }
func (v PerfValue) I32At(i int) int32  { return int32(v.Order.Uint32(v.elem(i))) }
func (v PerfValue) U64At(i int) uint64 { return v.Order.Uint64(v.elem(i)) }
func (v PerfValue) I64At(i int) int64  { return int64(v.Order.Uint64(v.elem(i))) }

// Span8/16/32/64/128 return the raw bytes of the i-th element for
// element sizes 1/2/4/8/16 respectively, without byte-swapping.
func (v PerfValue) Span8(i int) []byte   { return v.elem(i) }
func (v PerfValue) Span16(i int) []byte  { return v.elem(i) }
func (v PerfValue) Span32(i int) []byte  { return v.elem(i) }
func (v PerfValue) Span64(i int) []byte  { return v.elem(i) }
func (v PerfValue) Span128(i int) []byte { return v.elem(i) }

// Span returns the full backing byte range for this value.
func (v PerfValue) Span() []byte { return v.Bytes }

// GUID interprets the i-th 16-byte element as a GUID. EventHeader
// GUIDs store the first three fields in the record's endianness, so
// the byte order matters.
func (v PerfValue) GUID(i int) uuid.UUID {
	return GUIDFromBytes(v.elem(i), v.Order)
}

// GUIDFromBytes interprets a 16-byte span as a GUID, swapping the
// first three fields from order to uuid.UUID's big-endian wire order
// when necessary. It is exported so other packages decoding
// EventHeader GUID-typed extensions (e.g. ActivityId) share this
// exact conversion.
func GUIDFromBytes(b []byte, order binary.ByteOrder) uuid.UUID {
	var out uuid.UUID
	if order == binary.BigEndian {
		copy(out[:], b)
		return out
	}
	// Little-endian: swap the first three fields to big-endian
	// wire order the way uuid.UUID expects.
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:16])
	return out
}

// IPv4 interprets the i-th 4-byte element as an IPv4 address.
func (v PerfValue) IPv4(i int) netip.Addr {
	b := v.elem(i)
	return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
}

// IPv6 interprets the i-th 16-byte element as an IPv6 address.
func (v PerfValue) IPv6(i int) netip.Addr {
	b := v.elem(i)
	var a [16]byte
	copy(a[:], b)
	return netip.AddrFrom16(a)
}

// Port interprets the i-th 2-byte element as a big-endian network
// port number, as EventHeader always encodes ports.
func (v PerfValue) Port(i int) uint16 {
	return binary.BigEndian.Uint16(v.elem(i))
}
