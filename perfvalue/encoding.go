// Package perfvalue defines the shared field-value view and the
// encoding/format sum types used by both the tracefs format parser
// (package tracefmt) and the EventHeader enumerator (package
// eventheader).
package perfvalue

// An Encoding describes the physical layout of a field's value: its
// base type plus whether it repeats as a constant- or
// variable-length array, and whether a Format byte follows it in the
// EventHeader metadata stream (the chain flag is not used by
// tracefs).
//
// The low 5 bits are the base encoding; the top 3 bits are flags.
type Encoding uint8

const (
	encodingBaseMask = 0x1f

	// CArrayFlag marks a constant-length array (the element count
	// comes from the field definition, not the payload).
	CArrayFlag Encoding = 0x20
	// VArrayFlag marks a variable-length array (a uint16 element
	// count precedes the payload). Mutually exclusive with
	// CArrayFlag.
	VArrayFlag Encoding = 0x40
	// ChainFlag indicates that a Format byte follows this
	// Encoding byte in the metadata stream.
	ChainFlag Encoding = 0x80
)

// Base encodings.
const (
	Invalid Encoding = iota
	Struct
	Value8
	Value16
	Value32
	Value64
	Value128
	ZStringChar8
	ZStringChar16
	ZStringChar32
	StringLength16Char8
	StringLength16Char16
	StringLength16Char32
	BinaryLength16Char8
)

// Base strips the array/chain flags, returning just the base
// encoding.
func (e Encoding) Base() Encoding {
	return e & encodingBaseMask
}

// IsArray reports whether e has either array flag set.
func (e Encoding) IsArray() bool {
	return e&(CArrayFlag|VArrayFlag) != 0
}

// ElementSize returns the fixed size in bytes of one element of this
// base encoding, or 0 if the encoding is variable-length (a string or
// a struct).
func (e Encoding) ElementSize() int {
	switch e.Base() {
	case Value8:
		return 1
	case Value16:
		return 2
	case Value32:
		return 4
	case Value64:
		return 8
	case Value128:
		return 16
	}
	return 0
}

func (e Encoding) String() string {
	names := [...]string{
		"Invalid", "Struct", "Value8", "Value16", "Value32", "Value64",
		"Value128", "ZStringChar8", "ZStringChar16", "ZStringChar32",
		"StringLength16Char8", "StringLength16Char16",
		"StringLength16Char32", "BinaryLength16Char8",
	}
	base := e.Base()
	s := "Encoding(?)"
	if int(base) < len(names) {
		s = names[base]
	}
	if e&CArrayFlag != 0 {
		s += "|CArray"
	}
	if e&VArrayFlag != 0 {
		s += "|VArray"
	}
	if e&ChainFlag != 0 {
		s += "|Chain"
	}
	return s
}
