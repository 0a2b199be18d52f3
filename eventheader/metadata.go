package eventheader

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"

	"github.com/aclements/go-eventheader/perfvalue"
)

// fieldDef is one field definition parsed from the Metadata
// extension's field-definition stream.
type fieldDef struct {
	name     string
	encoding perfvalue.Encoding
	format   perfvalue.Format
	tag      uint16
	// arrayLength is the element count for CArrayFlag fields (0
	// otherwise; VArrayFlag fields read their count from the
	// payload at enumeration time).
	arrayLength uint16
}

// structFieldCount returns the number of immediate members of a
// Struct field, taken from the low 7 bits of its format byte.
func (d fieldDef) structFieldCount() int {
	return int(d.format.Base()) & 0x7f
}

// metadata is the parsed contents of one Metadata extension block:
// an event name, its semicolon-separated attribute string, and the
// field-definition stream that follows.
type metadata struct {
	eventName string
	options   string
	fields    []fieldDef
}

// splitEscaped splits s on ';', treating ";;" as an escaped literal
// ';' rather than a separator.
func splitEscaped(s string) []string {
	var out []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			if i+1 < len(s) && s[i+1] == ';' {
				cur.WriteByte(';')
				i++
				continue
			}
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(s[i])
	}
	out = append(out, cur.String())
	return out
}

// parseMetadata parses the contents of a Metadata extension: a
// zero-terminated "eventName;opt=val;opt2=val2" string followed by
// zero or more field-definition blocks.
func parseMetadata(data []byte, order binary.ByteOrder) (*metadata, error) {
	nul := -1
	for i, b := range data {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return nil, errors.New("metadata extension: event name not zero-terminated")
	}

	nameAndOpts := splitEscaped(string(data[:nul]))
	m := &metadata{eventName: nameAndOpts[0]}
	if len(nameAndOpts) > 1 {
		m.options = strings.Join(nameAndOpts[1:], ";")
	}

	rest := data[nul+1:]
	for len(rest) > 0 {
		fd, n, err := parseFieldDef(rest, order)
		if err != nil {
			return nil, err
		}
		m.fields = append(m.fields, fd)
		rest = rest[n:]
	}
	return m, nil
}

// parseFieldDef parses one field-definition block:
//
//	zstr name; u8 encoding; u8 format (if encoding.ChainFlag);
//	u16 tag (if format.ChainFlag); u16 array_length (if encoding
//	has CArrayFlag)
//
// and returns the number of bytes it consumed: the name, its NUL
// terminator, and 1-6 further bytes.
func parseFieldDef(data []byte, order binary.ByteOrder) (fieldDef, int, error) {
	nul := -1
	for i, b := range data {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return fieldDef{}, 0, errors.New("field definition: name not zero-terminated")
	}
	name := string(data[:nul])
	pos := nul + 1

	if pos >= len(data) {
		return fieldDef{}, 0, errors.New("field definition: truncated before encoding byte")
	}
	enc := perfvalue.Encoding(data[pos])
	pos++

	var format perfvalue.Format
	if enc&perfvalue.ChainFlag != 0 {
		if pos >= len(data) {
			return fieldDef{}, 0, errors.New("field definition: truncated before format byte")
		}
		format = perfvalue.Format(data[pos])
		pos++
	}

	var tag uint16
	if format&perfvalue.FormatChainFlag != 0 {
		if pos+2 > len(data) {
			return fieldDef{}, 0, errors.New("field definition: truncated before tag")
		}
		tag = order.Uint16(data[pos:])
		pos += 2
	}

	var arrayLength uint16
	if enc&perfvalue.CArrayFlag != 0 {
		if pos+2 > len(data) {
			return fieldDef{}, 0, errors.New("field definition: truncated before array length")
		}
		arrayLength = order.Uint16(data[pos:])
		pos += 2
	}

	return fieldDef{
		name:        name,
		encoding:    enc &^ perfvalue.ChainFlag,
		format:      format &^ perfvalue.FormatChainFlag,
		tag:         tag,
		arrayLength: arrayLength,
	}, pos, nil
}
