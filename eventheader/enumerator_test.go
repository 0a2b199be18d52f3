package eventheader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclements/go-eventheader/perfvalue"
)

// buildPayload assembles a little-endian EventHeader payload: the
// fixed prefix, a single non-chained Metadata extension (event name +
// field definitions), and the value bytes the field definitions
// describe.
func buildPayload(name string, fieldDefs []byte, values []byte) []byte {
	return buildPayloadOrder(binary.LittleEndian, FlagExtension, name, fieldDefs, values)
}

// buildPayloadOrder is buildPayload generalized to an explicit byte
// order and header flags, for exercising FlagBigEndian.
func buildPayloadOrder(order binary.ByteOrder, flags HeaderFlags, name string, fieldDefs []byte, values []byte) []byte {
	body := append([]byte(name), 0)
	body = append(body, fieldDefs...)

	var buf []byte
	buf = append(buf, byte(flags|FlagExtension), 0) // Flags, Version
	buf = append(buf, 0, 0)                         // ID
	buf = append(buf, 0, 0)                         // Tag
	buf = append(buf, 0, 0)                         // Opcode, Level

	var ehHdr [4]byte
	order.PutUint16(ehHdr[0:], uint16(len(body)))
	order.PutUint16(ehHdr[2:], uint16(ExtensionMetadata))
	buf = append(buf, ehHdr[:]...)
	buf = append(buf, body...)
	buf = append(buf, values...)
	return buf
}

// fieldDefBytes encodes one field-definition block: zstr name, u8
// encoding (no chain flag, so no format/tag byte), plus a u16 array
// length if enc has CArrayFlag set.
func fieldDefBytes(name string, enc perfvalue.Encoding) []byte {
	b := append([]byte(name), 0, byte(enc))
	if enc&perfvalue.CArrayFlag != 0 {
		panic("use fieldDefBytesArray for constant arrays")
	}
	return b
}

func fieldDefBytesArray(name string, enc perfvalue.Encoding, count uint16) []byte {
	b := append([]byte(name), 0, byte(enc|perfvalue.CArrayFlag))
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], count)
	return append(b, n[:]...)
}

// fieldDefBytesFmt encodes a chained field definition: zstr name, u8
// encoding|ChainFlag, u8 format (no tag).
func fieldDefBytesFmt(name string, enc perfvalue.Encoding, format perfvalue.Format) []byte {
	return append([]byte(name), 0, byte(enc|perfvalue.ChainFlag), byte(format))
}

// fieldDefBytesVArray encodes a chained, variable-length array field
// definition. The element count isn't part of the field definition
// (it's read from the payload at enumeration time); this only sets
// VArrayFlag.
func fieldDefBytesVArray(name string, enc perfvalue.Encoding, format perfvalue.Format) []byte {
	return fieldDefBytesFmt(name, enc|perfvalue.VArrayFlag, format)
}

// fieldDefBytesStruct encodes a chained Struct field definition whose
// format byte's low 7 bits give the member count.
func fieldDefBytesStruct(name string, fieldCount int) []byte {
	return fieldDefBytesFmt(name, perfvalue.Struct, perfvalue.Format(fieldCount))
}

func TestEnumerateScalarField(t *testing.T) {
	fd := fieldDefBytes("x", perfvalue.Value32)
	val := make([]byte, 4)
	binary.LittleEndian.PutUint32(val, 42)
	payload := buildPayload("TestEvent", fd, val)

	e := New(DecoderOptions{})
	require.True(t, e.StartEvent(payload, 7))
	assert.Equal(t, "TestEvent", e.Event().Name())
	assert.Equal(t, uint64(7), e.Event().Keyword)

	require.True(t, e.MoveNext())
	assert.Equal(t, StateValue, e.State())
	assert.Equal(t, "x", e.Item().Name())
	assert.Equal(t, uint32(42), e.Item().Value.U32())

	assert.False(t, e.MoveNext())
	assert.Equal(t, StateAfterLastItem, e.State())
}

func TestEnumerateFixedArray(t *testing.T) {
	fd := fieldDefBytesArray("arr", perfvalue.Value32, 3)
	val := make([]byte, 12)
	binary.LittleEndian.PutUint32(val[0:], 1)
	binary.LittleEndian.PutUint32(val[4:], 2)
	binary.LittleEndian.PutUint32(val[8:], 3)
	payload := buildPayload("TestEvent", fd, val)

	e := New(DecoderOptions{})
	require.True(t, e.StartEvent(payload, 0))

	require.True(t, e.MoveNext())
	assert.Equal(t, StateArrayBegin, e.State())
	assert.Equal(t, "arr", e.Item().Name())

	var got []uint32
	for e.MoveNext() && e.State() == StateArrayElement {
		got = append(got, e.Item().Value.U32())
	}
	assert.Equal(t, []uint32{1, 2, 3}, got)
	assert.Equal(t, StateArrayEnd, e.State())

	assert.False(t, e.MoveNext())
	assert.Equal(t, StateAfterLastItem, e.State())
}

func TestStartEventRejectsShortPayload(t *testing.T) {
	e := New(DecoderOptions{})
	assert.False(t, e.StartEvent([]byte{1, 2, 3}, 0))
	kind, _ := e.LastError()
	assert.Equal(t, ErrInvalidData, kind)
}

func TestStartEventRejectsMissingMetadata(t *testing.T) {
	payload := make([]byte, headerSize) // Flags = 0: no extensions at all
	e := New(DecoderOptions{})
	assert.False(t, e.StartEvent(payload, 0))
	kind, _ := e.LastError()
	assert.Equal(t, ErrInvalidData, kind)
}

// TestEnumerateStruct covers a simple two-member struct: StructBegin,
// its members in order, StructEnd.
func TestEnumerateStruct(t *testing.T) {
	fd := fieldDefBytesStruct("Pt", 2)
	fd = append(fd, fieldDefBytesFmt("x", perfvalue.Value32, perfvalue.SignedInt)...)
	fd = append(fd, fieldDefBytesFmt("y", perfvalue.Value32, perfvalue.SignedInt)...)

	val := make([]byte, 8)
	binary.LittleEndian.PutUint32(val[0:], 1)
	binary.LittleEndian.PutUint32(val[4:], uint32(int32(-1)))
	payload := buildPayload("TestEvent", fd, val)

	e := New(DecoderOptions{})
	require.True(t, e.StartEvent(payload, 0))

	require.True(t, e.MoveNext())
	assert.Equal(t, StateStructBegin, e.State())
	assert.Equal(t, "Pt", e.Item().Name())

	require.True(t, e.MoveNext())
	assert.Equal(t, StateValue, e.State())
	assert.Equal(t, "x", e.Item().Name())
	assert.Equal(t, int32(1), e.Item().Value.I32())

	require.True(t, e.MoveNext())
	assert.Equal(t, StateValue, e.State())
	assert.Equal(t, "y", e.Item().Name())
	assert.Equal(t, int32(-1), e.Item().Value.I32())

	require.True(t, e.MoveNext())
	assert.Equal(t, StateStructEnd, e.State())

	assert.False(t, e.MoveNext())
	assert.Equal(t, StateAfterLastItem, e.State())
}

// TestEnumerateVArrayStrings covers a variable-length array of
// StringLength16Char8 elements: the u16 element count precedes the
// payload, and each element is itself length-prefixed.
func TestEnumerateVArrayStrings(t *testing.T) {
	fd := fieldDefBytesVArray("names", perfvalue.StringLength16Char8, perfvalue.StringUtf)

	var val []byte
	val = append(val, 2, 0) // element count
	val = append(val, 3, 0)
	val = append(val, "abc"...)
	val = append(val, 2, 0)
	val = append(val, "de"...)
	payload := buildPayload("TestEvent", fd, val)

	e := New(DecoderOptions{})
	require.True(t, e.StartEvent(payload, 0))

	require.True(t, e.MoveNext())
	assert.Equal(t, StateArrayBegin, e.State())
	assert.Equal(t, "names", e.Item().Name())

	var got []string
	for e.MoveNext() && e.State() == StateArrayElement {
		got = append(got, string(e.Item().Value.Bytes))
	}
	assert.Equal(t, []string{"abc", "de"}, got)
	assert.Equal(t, StateArrayEnd, e.State())

	assert.False(t, e.MoveNext())
	assert.Equal(t, StateAfterLastItem, e.State())
}

// TestBinaryLength16Char8Tristate covers the nullable fixed-size
// pattern: a zero-length value decodes as null, a length matching a
// fixed scalar width (1/2/4/8) decodes as that scalar, and any other
// length falls back to raw hex bytes.
func TestBinaryLength16Char8Tristate(t *testing.T) {
	fd := fieldDefBytesFmt("x", perfvalue.BinaryLength16Char8, perfvalue.SignedInt)

	t.Run("null", func(t *testing.T) {
		val := []byte{0, 0}
		payload := buildPayload("TestEvent", fd, val)
		e := New(DecoderOptions{})
		require.True(t, e.StartEvent(payload, 0))
		require.True(t, e.MoveNext())
		assert.Equal(t, StateValue, e.State())
		assert.Nil(t, e.Item().Value.Bytes)
		assert.Equal(t, 0, e.Item().Value.ElementSize)
	})

	t.Run("scalar", func(t *testing.T) {
		val := []byte{4, 0, 0x2A, 0x00, 0x00, 0x00}
		payload := buildPayload("TestEvent", fd, val)
		e := New(DecoderOptions{})
		require.True(t, e.StartEvent(payload, 0))
		require.True(t, e.MoveNext())
		assert.Equal(t, StateValue, e.State())
		v := e.Item().Value
		assert.Equal(t, perfvalue.BinaryLength16Char8, v.Encoding.Base())
		assert.Equal(t, 4, v.ElementSize)
		assert.Equal(t, int32(42), v.I32())
	})

	t.Run("hex fallback", func(t *testing.T) {
		val := []byte{3, 0, 0x01, 0x02, 0x03}
		payload := buildPayload("TestEvent", fd, val)
		e := New(DecoderOptions{})
		require.True(t, e.StartEvent(payload, 0))
		require.True(t, e.MoveNext())
		assert.Equal(t, StateValue, e.State())
		v := e.Item().Value
		assert.Equal(t, 0, v.ElementSize)
		assert.Equal(t, perfvalue.HexBytes, v.Format.Base())
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, v.Bytes)
	})
}

// TestEnumerateBigEndian covers FlagBigEndian: a Value32 field's bytes
// decode using the header's declared byte order, not always
// little-endian.
func TestEnumerateBigEndian(t *testing.T) {
	fd := fieldDefBytesFmt("x", perfvalue.Value32, perfvalue.UnsignedInt)
	val := []byte{0x12, 0x34, 0x56, 0x78}
	payload := buildPayloadOrder(binary.BigEndian, FlagBigEndian, "TestEvent", fd, val)

	e := New(DecoderOptions{})
	require.True(t, e.StartEvent(payload, 0))
	require.True(t, e.MoveNext())
	assert.Equal(t, StateValue, e.State())
	assert.Equal(t, uint32(0x12345678), e.Item().Value.U32())
}

// TestNestingDepthOverflow covers DecoderOptions.MaxNestingDepth: a
// chain of nested one-member structs deeper than the configured limit
// fails with ErrStackOverflow instead of recursing unboundedly.
func TestNestingDepthOverflow(t *testing.T) {
	// Build 3 nested structs, each with its single member being the
	// next struct, terminating in a Value32 leaf.
	var fd []byte
	fd = append(fd, fieldDefBytesStruct("s0", 1)...)
	fd = append(fd, fieldDefBytesStruct("s1", 1)...)
	fd = append(fd, fieldDefBytesStruct("s2", 1)...)
	fd = append(fd, fieldDefBytesFmt("leaf", perfvalue.Value32, perfvalue.UnsignedInt)...)
	val := make([]byte, 4)
	payload := buildPayload("TestEvent", fd, val)

	e := New(DecoderOptions{MaxNestingDepth: 2})
	require.True(t, e.StartEvent(payload, 0))

	for {
		if !e.MoveNext() {
			break
		}
	}
	assert.Equal(t, StateError, e.State())
	kind, _ := e.LastError()
	assert.Equal(t, ErrStackOverflow, kind)
}

// TestStructFieldCountZeroRejected covers StartEvent's up-front schema
// validation: a Struct field definition with field_count == 0 is
// rejected before any enumeration begins.
func TestStructFieldCountZeroRejected(t *testing.T) {
	fd := fieldDefBytesStruct("Empty", 0)
	payload := buildPayload("TestEvent", fd, nil)

	e := New(DecoderOptions{})
	assert.False(t, e.StartEvent(payload, 0))
	kind, _ := e.LastError()
	assert.Equal(t, ErrInvalidData, kind)
}
