package perfvalue

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalarAccessors(t *testing.T) {
	v := PerfValue{
		Bytes:        []byte{0x34, 0x12},
		ElementSize:  2,
		ElementCount: 1,
		Order:        binary.LittleEndian,
	}
	assert.Equal(t, uint16(0x1234), v.U16())
	assert.Equal(t, int16(0x1234), v.I16())
}

func TestArrayElementAccessors(t *testing.T) {
	v := PerfValue{
		Bytes:        []byte{1, 0, 2, 0, 3, 0},
		ElementSize:  2,
		ElementCount: 3,
		Order:        binary.LittleEndian,
	}
	assert.Equal(t, uint16(1), v.U16At(0))
	assert.Equal(t, uint16(2), v.U16At(1))
	assert.Equal(t, uint16(3), v.U16At(2))
}

func TestGUIDFromBytesLittleEndian(t *testing.T) {
	// {00010203-0405-0607-0809-0a0b0c0d0e0f} stored little-endian in
	// the first three fields, as EventHeader does.
	b := []byte{0x03, 0x02, 0x01, 0x00, 0x05, 0x04, 0x07, 0x06, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
	got := GUIDFromBytes(b, binary.LittleEndian)
	assert.Equal(t, "00010203-0405-0607-0809-0a0b0c0d0e0f", got.String())
}

func TestGUIDFromBytesBigEndian(t *testing.T) {
	b := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
	got := GUIDFromBytes(b, binary.BigEndian)
	assert.Equal(t, "00010203-0405-0607-0809-0a0b0c0d0e0f", got.String())
}

func TestIsArrayOrElement(t *testing.T) {
	scalar := PerfValue{ElementCount: 1, Encoding: Value32}
	assert.False(t, scalar.IsArrayOrElement())

	array := PerfValue{ElementCount: 1, Encoding: Value32 | CArrayFlag}
	assert.True(t, array.IsArrayOrElement())

	multi := PerfValue{ElementCount: 4, Encoding: Value32}
	assert.True(t, multi.IsArrayOrElement())
}

func TestEncodingElementSize(t *testing.T) {
	assert.Equal(t, 1, Value8.ElementSize())
	assert.Equal(t, 8, Value64.ElementSize())
	assert.Equal(t, 0, ZStringChar8.ElementSize())
}

func TestFormatBaseStripsChainFlag(t *testing.T) {
	f := HexInt | FormatChainFlag
	assert.Equal(t, HexInt, f.Base())
	assert.Equal(t, "HexInt", f.Base().String())
}
