// Package tracefmt parses the tracefs "format:" text published at
// /sys/kernel/tracing/events/<sys>/<name>/format (and embedded
// verbatim in a perf.data file's TRACING_DATA feature section) into a
// structured field-layout description.
package tracefmt

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/aclements/go-eventheader/perfvalue"
)

// A DecodingStyle says whether a tracepoint's payload should be
// decoded generically from its Format, or handed to the EventHeader
// enumerator.
type DecodingStyle int

const (
	TraceEvent DecodingStyle = iota
	EventHeader
)

// A Format is the parsed layout of one tracepoint's payload, as
// published by tracefs.
type Format struct {
	SystemName string
	Name       string
	ID         uint32

	CommonFieldCount int
	CommonFieldsSize int

	Fields []FieldFormat

	DecodingStyle DecodingStyle
	PrintFmt      string
}

// A FieldFormat describes one field within a tracepoint's payload.
type FieldFormat struct {
	Name   string
	Offset uint16
	Size   uint16
	Signed bool

	Encoding perfvalue.Encoding
	Format   perfvalue.Format

	// ArrayCount is the element count for a constant-length
	// array, or 0 for a scalar or a variable-length (__data_loc)
	// field.
	ArrayCount int
	// ElementSize is the size in bytes of one array element (or
	// of the scalar itself), or 0 if unknown (e.g. Invalid).
	ElementSize int
}

// Value extracts the PerfValue for this field from a sample's raw
// payload. It does not bounds-check; offset+size <= len(payload) is
// the caller's responsibility, matching the "checked on access, not
// on construction" invariant in the data model.
func (f *FieldFormat) Value(payload []byte, order binary.ByteOrder) perfvalue.PerfValue {
	data := payload[f.Offset : f.Offset+f.Size]
	enc := f.Encoding

	if enc.Base() == perfvalue.StringLength16Char8 && f.ArrayCount == 0 && f.ElementSize == 0 {
		// __data_loc: the field itself holds a (len:u16,
		// offset:u16) pair pointing elsewhere in the payload.
		loc := order.Uint32(data)
		length := loc >> 16
		off := loc & 0xffff
		return perfvalue.PerfValue{
			Bytes:        payload[off : off+length],
			Encoding:     enc,
			Format:       f.Format,
			ElementCount: 1,
			ElementSize:  0,
			Order:        order,
		}
	}

	count := f.ArrayCount
	if count == 0 {
		count = 1
	}
	return perfvalue.PerfValue{
		Bytes:        data,
		Encoding:     enc,
		Format:       f.Format,
		ElementCount: count,
		ElementSize:  f.ElementSize,
		Order:        order,
	}
}

var fieldLineRe = regexp.MustCompile(`^\s*field:(.*?);\s*offset:(\d+);\s*size:(\d+);\s*signed:(-?\d+);\s*$`)

// Parse parses the text of one tracefs "format" file.
//
// longSize64 says whether "long"/"unsigned long" fields should be
// treated as 64-bit (the target that recorded the capture has 64-bit
// pointers) or 32-bit.
//
// Parse returns (nil, nil) -- not an error -- when name or ID is
// missing or malformed, matching the "returns Some(Format) iff..."
// output contract: the caller treats a nil Format as "no format for
// this tracepoint" rather than a hard failure.
func Parse(text string, longSize64 bool) (*Format, error) {
	lines := strings.Split(text, "\n")

	f := &Format{}
	var haveID bool
	inFormatBlock := false
	sawBlankInBlock := false
	blankRun := 0

	for _, rawLine := range lines {
		line := strings.TrimRight(rawLine, "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "name:"):
			f.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "name:"))
			continue

		case strings.HasPrefix(trimmed, "ID:"):
			id, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(trimmed, "ID:")), 10, 32)
			if err != nil {
				return nil, nil
			}
			f.ID = uint32(id)
			haveID = true
			continue

		case strings.HasPrefix(trimmed, "print fmt:"):
			f.PrintFmt = strings.TrimSpace(strings.TrimPrefix(trimmed, "print fmt:"))
			inFormatBlock = false
			continue

		case trimmed == "format:":
			inFormatBlock = true
			sawBlankInBlock = false
			blankRun = 0
			continue
		}

		if !inFormatBlock {
			continue
		}

		if trimmed == "" {
			blankRun++
			if blankRun >= 2 {
				inFormatBlock = false
			} else if !sawBlankInBlock {
				sawBlankInBlock = true
				f.CommonFieldCount = len(f.Fields)
			}
			continue
		}
		blankRun = 0

		m := fieldLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		decl, offsetStr, sizeStr, signedStr := m[1], m[2], m[3], m[4]
		offset, err := strconv.ParseUint(offsetStr, 10, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing field offset %q", offsetStr)
		}
		size, err := strconv.ParseUint(sizeStr, 10, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing field size %q", sizeStr)
		}
		signed := signedStr == "1"

		ff := FieldFormat{
			Offset: uint16(offset),
			Size:   uint16(size),
			Signed: signed,
		}
		ff.Name, ff.Encoding, ff.Format, ff.ArrayCount, ff.ElementSize = resolveType(decl, int(size), signed, longSize64)
		f.Fields = append(f.Fields, ff)
	}

	if !sawBlankInBlock {
		// No common/user split seen (e.g. single-field
		// formats); everything is a user field.
		f.CommonFieldCount = 0
	}
	if f.CommonFieldCount > 0 {
		last := f.Fields[f.CommonFieldCount-1]
		f.CommonFieldsSize = int(last.Offset) + int(last.Size)
	}

	if f.Name == "" || !haveID {
		return nil, nil
	}

	f.DecodingStyle = TraceEvent
	if f.CommonFieldCount < len(f.Fields) && f.Fields[f.CommonFieldCount].Name == "eventheader_flags" {
		f.DecodingStyle = EventHeader
	}

	return f, nil
}

var trailingArrayRe = regexp.MustCompile(`^(\w+)(\[(\d*)\])?$`)

// resolveType translates a single tracefs field declaration (the
// "<type> <name>" string between "field:" and the first ";") into a
// name plus (encoding, format, arrayCount, elementSize).
func resolveType(decl string, fieldSize int, signed bool, longSize64 bool) (name string, enc perfvalue.Encoding, format perfvalue.Format, arrayCount int, elemSize int) {
	decl = strings.TrimSpace(decl)
	tokens := strings.Fields(decl)
	if len(tokens) == 0 {
		return "", perfvalue.Invalid, perfvalue.Default, 0, 0
	}

	last := tokens[len(tokens)-1]
	cType := strings.Join(tokens[:len(tokens)-1], " ")

	nameArray := trailingArrayRe.FindStringSubmatch(last)
	if nameArray == nil {
		// Unparseable declaration; preserve offset/size but
		// mark the encoding Invalid per the output contract.
		return last, perfvalue.Invalid, perfvalue.Default, 0, 0
	}
	name = nameArray[1]
	hasBracket := nameArray[2] != ""
	bracketLen := nameArray[3]

	isDataLoc := strings.Contains(cType, "__data_loc")
	cType = strings.TrimSpace(strings.TrimPrefix(cType, "__data_loc"))
	cType = strings.TrimSuffix(strings.TrimSpace(cType), "[]")
	cType = strings.TrimSpace(cType)

	if isDataLoc {
		return name, perfvalue.StringLength16Char8, perfvalue.StringUtf, 0, 0
	}

	baseEnc, baseFormat, baseElemSize := resolveCType(cType, signed, longSize64)

	format = baseFormat
	if signed && format == perfvalue.Default {
		format = perfvalue.SignedInt
	}
	enc = baseEnc
	elemSize = baseElemSize

	if hasBracket && cType == "char" {
		// A fixed-size char buffer (e.g. "char comm[16]") is a
		// C string, not a numeric array.
		format = perfvalue.String8
	}

	switch {
	case !hasBracket:
		arrayCount = 0

	case bracketLen == "":
		// "[]" at the tail: rest-of-record.
		if elemSize > 0 {
			arrayCount = fieldSize / elemSize
		}
		enc |= perfvalue.CArrayFlag

	default:
		n, err := strconv.Atoi(bracketLen)
		if err != nil {
			return name, perfvalue.Invalid, perfvalue.Default, 0, 0
		}
		arrayCount = n
		enc |= perfvalue.CArrayFlag
	}

	return name, enc, format, arrayCount, elemSize
}

// resolveCType maps a bare C type name (already stripped of array
// brackets and __data_loc) to a base encoding/format/element-size
// triple.
func resolveCType(cType string, signed bool, longSize64 bool) (perfvalue.Encoding, perfvalue.Format, int) {
	switch cType {
	case "char", "signed char", "__s8", "s8", "int8_t":
		return perfvalue.Value8, perfvalue.SignedInt, 1
	case "unsigned char", "u8", "__u8", "uint8_t", "u_char":
		return perfvalue.Value8, perfvalue.UnsignedInt, 1
	case "short", "short int", "s16", "__s16", "int16_t":
		return perfvalue.Value16, perfvalue.SignedInt, 2
	case "unsigned short", "unsigned short int", "u16", "__u16", "uint16_t":
		return perfvalue.Value16, perfvalue.UnsignedInt, 2
	case "int", "s32", "__s32", "int32_t", "pid_t":
		return perfvalue.Value32, perfvalue.SignedInt, 4
	case "unsigned int", "unsigned", "u32", "__u32", "uint32_t":
		return perfvalue.Value32, perfvalue.UnsignedInt, 4
	case "long long", "long long int", "s64", "__s64", "int64_t":
		return perfvalue.Value64, perfvalue.SignedInt, 8
	case "unsigned long long", "unsigned long long int", "u64", "__u64", "uint64_t":
		return perfvalue.Value64, perfvalue.UnsignedInt, 8
	case "long":
		if longSize64 {
			return perfvalue.Value64, perfvalue.SignedInt, 8
		}
		return perfvalue.Value32, perfvalue.SignedInt, 4
	case "unsigned long":
		if longSize64 {
			return perfvalue.Value64, perfvalue.UnsignedInt, 8
		}
		return perfvalue.Value32, perfvalue.UnsignedInt, 4
	}
	if signed {
		return perfvalue.Value32, perfvalue.SignedInt, 4
	}
	return perfvalue.Invalid, perfvalue.Default, 0
}

func (f *Format) String() string {
	return fmt.Sprintf("%s:%s#%d", f.SystemName, f.Name, f.ID)
}
