// Package eventheader implements the forward-only EventHeader
// enumerator: a state machine that walks the metadata extension
// (schema) of one tracepoint sample in lockstep with its payload,
// yielding a depth-first stream of scalars, structs, and arrays.
package eventheader

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/aclements/go-eventheader/perfvalue"
)

// HeaderFlags are the flag bits in the in-payload EventHeader prefix.
type HeaderFlags uint8

const (
	FlagPointer64 HeaderFlags = 1 << iota
	FlagBigEndian
	FlagExtension
)

// header is the fixed 8-byte prefix at the start of every EventHeader
// event's payload, distinct from the perf.data record header.
type header struct {
	Flags   HeaderFlags
	Version uint8
	ID      uint16
	Tag     uint16
	Opcode  uint8
	Level   uint8
}

const headerSize = 8

// ExtensionKind identifies the payload of an extension block that
// follows the EventHeader prefix.
type ExtensionKind uint16

const (
	extensionChainFlag ExtensionKind = 0x8000
	extensionKindMask  ExtensionKind = 0x7fff
)

const (
	ExtensionInvalid ExtensionKind = iota
	ExtensionMetadata
	ExtensionActivityID
)

// Base strips the chain flag.
func (k ExtensionKind) Base() ExtensionKind { return k & extensionKindMask }

type extensionHeader struct {
	Size uint16
	Kind ExtensionKind
}

const extensionHeaderSize = 4

// Opcode mirrors the well-known EventHeader opcodes relevant to
// activity correlation.
type Opcode uint8

const (
	OpcodeInfo Opcode = iota
	OpcodeStart
	OpcodeStop
	OpcodeCollectionStart
	OpcodeCollectionStop
	OpcodeExtension
	OpcodeReply
	OpcodeResume
	OpcodeSuspend
	OpcodeSend
	OpcodeReceive Opcode = 0xf0
)

// State is a position in the enumerator's forward-only walk.
type State int

const (
	StateNone State = iota
	StateError
	StateBeforeFirstItem
	StateValue
	StateArrayBegin
	StateArrayElement
	StateArrayEnd
	StateStructBegin
	StateStructEnd
	StateAfterLastItem
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateError:
		return "Error"
	case StateBeforeFirstItem:
		return "BeforeFirstItem"
	case StateValue:
		return "Value"
	case StateArrayBegin:
		return "ArrayBegin"
	case StateArrayElement:
		return "ArrayElement"
	case StateArrayEnd:
		return "ArrayEnd"
	case StateStructBegin:
		return "StructBegin"
	case StateStructEnd:
		return "StructEnd"
	case StateAfterLastItem:
		return "AfterLastItem"
	}
	return "State(?)"
}

// ErrorKind is a sub-kind of EnumeratorError.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrInvalidData
	ErrNotSupported
	ErrStackOverflow
	ErrImplementationError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return "None"
	case ErrInvalidData:
		return "InvalidData"
	case ErrNotSupported:
		return "NotSupported"
	case ErrStackOverflow:
		return "StackOverflow"
	case ErrImplementationError:
		return "ImplementationError"
	}
	return "ErrorKind(?)"
}

// ItemInfo describes the item the enumerator is currently positioned
// on.
type ItemInfo struct {
	NameBytes []byte
	Value     perfvalue.PerfValue
	PathDepth int
}

func (i ItemInfo) Name() string { return string(i.NameBytes) }

// EventInfo describes the identity and attributes of the event the
// enumerator is currently walking.
type EventInfo struct {
	ProviderName string
	NameBytes    []byte

	Header  HeaderFlags
	Version uint8
	Tag     uint16
	ID      uint16
	Level   uint8
	Opcode  Opcode

	// Keyword is sourced from the owning tracepoint's attribute
	// config, since the in-payload EventHeader prefix itself
	// carries no keyword field (see DESIGN.md).
	Keyword uint64

	Options string

	ActivityID        *uuid.UUID
	RelatedActivityID *uuid.UUID
}

func (e EventInfo) Name() string { return string(e.NameBytes) }

// DecoderOptions are the enumerator's configuration knobs (the
// decoder half of the spec's "Configuration object" design note; the
// sink-side metadata toggles live in package perfjson).
type DecoderOptions struct {
	// MaxNestingDepth bounds struct nesting depth. Zero means the
	// default of 8.
	MaxNestingDepth int
}

func (o DecoderOptions) maxDepth() int {
	if o.MaxNestingDepth <= 0 {
		return 8
	}
	return o.MaxNestingDepth
}

func byteOrder(flags HeaderFlags) binary.ByteOrder {
	if flags&FlagBigEndian != 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
