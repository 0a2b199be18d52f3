package eventheader

import (
	"encoding/binary"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aclements/go-eventheader/perfvalue"
)

var (
	itemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventheader_items_total",
		Help: "Number of EventHeader items (values, struct/array begin-end pairs) enumerated.",
	})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventheader_errors_total",
		Help: "Number of EventHeader enumeration errors by sub-kind.",
	}, []string{"kind"})
)

// frameKind distinguishes the two kinds of nesting the enumerator's
// depth stack can hold.
type frameKind uint8

const (
	frameStruct frameKind = iota
	frameArray
)

// frame is one level of the enumerator's bounded nesting stack.
type frame struct {
	kind frameKind
	name []byte

	// frameStruct: iterate fields[start:start+count) once.
	start, count, idx int

	// frameArray: repeat either a flat scalar/string element or a
	// struct instance, elementsLeft times.
	elementsLeft int
	elemEnc      perfvalue.Encoding
	elemFormat   perfvalue.Format
	elemTag      uint16
	elemFixed    int // fixed element size, or 0 for variable-length
	isStruct     bool
	structStart  int
	structCount  int

	arrayBegun      bool // ArrayBegin already emitted
	elementStructUp bool // a struct sub-frame for the current element is on the stack
}

// Enumerator is a forward-only, single-owner state machine over one
// EventHeader event's metadata schema and payload. It must not
// outlive the perf.data record whose bytes it borrows.
type Enumerator struct {
	opts DecoderOptions

	payload []byte
	pos     int
	order   binary.ByteOrder

	fields []fieldDef
	topIdx int
	stack  []frame

	state      State
	lastError  ErrorKind
	lastErrMsg string

	event EventInfo
	cur   ItemInfo
}

// New creates an Enumerator with the given options. opts may be the
// zero value to use defaults.
func New(opts DecoderOptions) *Enumerator {
	return &Enumerator{opts: opts, state: StateNone}
}

// State returns the enumerator's current state.
func (e *Enumerator) State() State { return e.state }

// LastError returns the sub-kind of the most recent error, or ErrNone
// if the enumerator has not failed.
func (e *Enumerator) LastError() (ErrorKind, string) { return e.lastError, e.lastErrMsg }

func (e *Enumerator) fail(kind ErrorKind, msg string) bool {
	e.state = StateError
	e.lastError = kind
	e.lastErrMsg = msg
	errorsTotal.WithLabelValues(kind.String()).Inc()
	return false
}

// StartEvent parses the fixed EventHeader prefix and its extensions
// from payload, validates the Metadata extension's shape, and
// positions the enumerator at BeforeFirstItem. On any failure it sets
// state to Error and returns false.
//
// keyword is the owning tracepoint's attribute config word, copied
// into EventInfo.Keyword (see DESIGN.md).
func (e *Enumerator) StartEvent(payload []byte, keyword uint64) bool {
	e.state = StateNone
	e.lastError = ErrNone
	e.lastErrMsg = ""
	e.stack = e.stack[:0]
	e.topIdx = 0
	e.fields = nil
	e.event = EventInfo{}

	if len(payload) < headerSize {
		return e.fail(ErrInvalidData, "payload shorter than EventHeader prefix")
	}
	var h header
	// flags is a single byte so its own endianness is moot;
	// everything after it is read per flags&FlagBigEndian.
	h.Flags = HeaderFlags(payload[0])
	order := byteOrder(h.Flags)
	h.Version = payload[1]
	h.ID = order.Uint16(payload[2:])
	h.Tag = order.Uint16(payload[4:])
	h.Opcode = payload[6]
	h.Level = payload[7]

	e.order = order
	e.event.Header = h.Flags
	e.event.Version = h.Version
	e.event.ID = h.ID
	e.event.Tag = h.Tag
	e.event.Opcode = Opcode(h.Opcode)
	e.event.Level = h.Level
	e.event.Keyword = keyword

	pos := headerSize
	haveMetadata := false
	for h.Flags&FlagExtension != 0 {
		if pos+extensionHeaderSize > len(payload) {
			return e.fail(ErrInvalidData, "truncated extension header")
		}
		var eh extensionHeader
		eh.Size = order.Uint16(payload[pos:])
		eh.Kind = ExtensionKind(order.Uint16(payload[pos+2:]))
		body := payload[pos+extensionHeaderSize:]
		if int(eh.Size) > len(body) {
			return e.fail(ErrInvalidData, "extension body overruns payload")
		}
		body = body[:eh.Size]

		switch eh.Kind.Base() {
		case ExtensionMetadata:
			md, err := parseMetadata(body, order)
			if err != nil {
				return e.fail(ErrInvalidData, err.Error())
			}
			e.event.ProviderName = md.eventName
			e.event.NameBytes = []byte(md.eventName)
			e.event.Options = md.options
			e.fields = md.fields
			haveMetadata = true

		case ExtensionActivityID:
			switch len(body) {
			case 16:
				id := perfvalue.GUIDFromBytes(body, order)
				e.event.ActivityID = &id
			case 32:
				id := perfvalue.GUIDFromBytes(body[:16], order)
				rel := perfvalue.GUIDFromBytes(body[16:], order)
				e.event.ActivityID = &id
				e.event.RelatedActivityID = &rel
			default:
				return e.fail(ErrInvalidData, "ActivityId extension has unexpected size")
			}
		}

		pos += extensionHeaderSize + int(eh.Size)
		if eh.Kind&extensionChainFlag == 0 {
			break
		}
	}
	if !haveMetadata {
		return e.fail(ErrInvalidData, "event has no Metadata extension")
	}
	if pos > len(payload) {
		return e.fail(ErrInvalidData, "extensions overran payload")
	}

	// Reject malformed schema up front: nested struct with
	// field_count == 0.
	for _, fd := range e.fields {
		if fd.encoding.Base() == perfvalue.Struct && fd.structFieldCount() == 0 {
			return e.fail(ErrInvalidData, "struct field with field_count == 0")
		}
	}

	e.payload = payload[pos:]
	e.pos = 0
	e.state = StateBeforeFirstItem
	return true
}

// Item returns the item the enumerator is currently positioned on.
// Valid after MoveNext returns true and the state is one of
// Value/ArrayBegin/ArrayElement/ArrayEnd/StructBegin/StructEnd.
func (e *Enumerator) Item() ItemInfo { return e.cur }

// Event returns the identity/attributes of the event being walked.
// Valid any time after a successful StartEvent.
func (e *Enumerator) Event() EventInfo { return e.event }

func (e *Enumerator) depth() int { return len(e.stack) }

// MoveNext advances to the next logical position in depth-first
// order, consuming exactly the payload required to determine the
// next item's size.
func (e *Enumerator) MoveNext() bool {
	switch e.state {
	case StateError, StateAfterLastItem, StateNone:
		return false
	}

	for {
		if len(e.stack) == 0 {
			if e.topIdx >= len(e.fields) {
				e.state = StateAfterLastItem
				return false
			}
			fd := e.fields[e.topIdx]
			e.topIdx++
			return e.enter(fd)
		}

		top := &e.stack[len(e.stack)-1]
		switch top.kind {
		case frameStruct:
			if top.idx >= top.count {
				name := top.name
				e.stack = e.stack[:len(e.stack)-1]
				e.state = StateStructEnd
				e.cur = ItemInfo{NameBytes: name, PathDepth: e.depth()}
				itemsTotal.Inc()
				if len(e.stack) > 0 && e.stack[len(e.stack)-1].kind == frameArray {
					e.stack[len(e.stack)-1].elementStructUp = false
				}
				return true
			}
			fd := e.fields[top.start+top.idx]
			top.idx++
			return e.enter(fd)

		case frameArray:
			if !top.arrayBegun {
				top.arrayBegun = true
				e.state = StateArrayBegin
				e.cur = ItemInfo{NameBytes: top.name, PathDepth: e.depth() - 1}
				itemsTotal.Inc()
				return true
			}
			if top.elementStructUp {
				// Shouldn't happen: the struct frame
				// above us handles its own end.
				top.elementStructUp = false
			}
			if top.elementsLeft <= 0 {
				e.stack = e.stack[:len(e.stack)-1]
				e.state = StateArrayEnd
				e.cur = ItemInfo{NameBytes: top.name, PathDepth: e.depth()}
				itemsTotal.Inc()
				return true
			}
			if top.isStruct {
				top.elementsLeft--
				top.elementStructUp = true
				e.stack = append(e.stack, frame{
					kind:  frameStruct,
					name:  top.name,
					start: top.structStart,
					count: top.structCount,
				})
				e.state = StateStructBegin
				e.cur = ItemInfo{NameBytes: top.name, PathDepth: e.depth() - 1}
				itemsTotal.Inc()
				return true
			}

			// Scalar/string array element.
			v, err := e.readElement(top.elemEnc, top.elemFormat, top.elemTag, top.elemFixed)
			if err != "" {
				return e.fail(ErrInvalidData, err)
			}
			top.elementsLeft--
			e.state = StateArrayElement
			e.cur = ItemInfo{NameBytes: top.name, Value: v, PathDepth: e.depth()}
			itemsTotal.Inc()
			return true
		}
	}
}

// enter processes one field definition fd from the schema, emitting
// the appropriate state transition (Value, StructBegin, or
// ArrayBegin) and, for arrays/structs, pushing a frame.
func (e *Enumerator) enter(fd fieldDef) bool {
	if fd.encoding.Base() == perfvalue.Struct {
		count := fd.structFieldCount()
		if count == 0 {
			return e.fail(ErrInvalidData, "struct field with field_count == 0")
		}
		if fd.encoding.IsArray() {
			n, ok := e.arrayCount(fd)
			if !ok {
				return false
			}
			structStart := e.structMemberStart(fd)
			f := frame{
				kind:         frameArray,
				name:         []byte(fd.name),
				elementsLeft: n,
				isStruct:     true,
				structStart:  structStart,
				structCount:  count,
			}
			if len(e.stack) >= e.opts.maxDepth() {
				return e.fail(ErrStackOverflow, "nesting depth exceeded")
			}
			e.stack = append(e.stack, f)
			// Skip the member field-defs at this schema
			// level; they're consumed via structStart.
			e.skipMembers(fd, count)
			return e.continueTop()
		}

		if len(e.stack) >= e.opts.maxDepth() {
			return e.fail(ErrStackOverflow, "nesting depth exceeded")
		}
		start := e.structMemberStart(fd)
		e.stack = append(e.stack, frame{
			kind:  frameStruct,
			name:  []byte(fd.name),
			start: start,
			count: count,
		})
		e.skipMembers(fd, count)
		e.state = StateStructBegin
		e.cur = ItemInfo{NameBytes: []byte(fd.name), PathDepth: e.depth() - 1}
		itemsTotal.Inc()
		return true
	}

	if fd.encoding.IsArray() {
		n, ok := e.arrayCount(fd)
		if !ok {
			return false
		}
		elemSize := fd.encoding.Base().ElementSize()
		if fd.encoding.Base() == perfvalue.BinaryLength16Char8 {
			elemSize = 0
		}
		e.stack = append(e.stack, frame{
			kind:         frameArray,
			name:         []byte(fd.name),
			elementsLeft: n,
			elemEnc:      fd.encoding.Base(),
			elemFormat:   fd.format,
			elemTag:      fd.tag,
			elemFixed:    elemSize,
		})
		return e.continueTop()
	}

	v, errMsg := e.readElement(fd.encoding.Base(), fd.format, fd.tag, fd.encoding.Base().ElementSize())
	if errMsg != "" {
		return e.fail(ErrInvalidData, errMsg)
	}
	e.state = StateValue
	e.cur = ItemInfo{NameBytes: []byte(fd.name), Value: v, PathDepth: e.depth()}
	itemsTotal.Inc()
	return true
}

// continueTop finishes entering an array: it marks the newly pushed
// frame's ArrayBegin as emitted and makes ArrayBegin the current item.
func (e *Enumerator) continueTop() bool {
	top := &e.stack[len(e.stack)-1]
	top.arrayBegun = true
	e.state = StateArrayBegin
	e.cur = ItemInfo{NameBytes: top.name, PathDepth: e.depth() - 1}
	itemsTotal.Inc()
	return true
}

// structMemberStart returns the schema index immediately following
// fd's own index; callers must have already advanced past fd when
// this is invoked from enter() (topIdx or a struct frame's idx).
func (e *Enumerator) structMemberStart(fd fieldDef) int {
	if len(e.stack) == 0 {
		return e.topIdx
	}
	top := &e.stack[len(e.stack)-1]
	if top.kind == frameStruct {
		return top.start + top.idx
	}
	return e.topIdx
}

// skipMembers advances whichever cursor is "current" past the next
// count field-defs, since those defs are consumed structurally (via
// the pushed frame's start/count) rather than linearly.
func (e *Enumerator) skipMembers(fd fieldDef, count int) {
	if len(e.stack) >= 2 {
		parent := &e.stack[len(e.stack)-2]
		if parent.kind == frameStruct {
			parent.idx += count
			return
		}
	}
	e.topIdx += count
}

// arrayCount determines an array field's element count: from the
// payload for VArrayFlag, from the field definition for CArrayFlag.
func (e *Enumerator) arrayCount(fd fieldDef) (int, bool) {
	if fd.encoding&perfvalue.VArrayFlag != 0 {
		if e.pos+2 > len(e.payload) {
			e.fail(ErrInvalidData, "truncated before array count")
			return 0, false
		}
		n := e.order.Uint16(e.payload[e.pos:])
		e.pos += 2
		return int(n), true
	}
	return int(fd.arrayLength), true
}

// readElement consumes one element's bytes from the payload and
// returns its PerfValue.
func (e *Enumerator) readElement(enc perfvalue.Encoding, format perfvalue.Format, tag uint16, fixedSize int) (perfvalue.PerfValue, string) {
	switch enc {
	case perfvalue.ZStringChar8, perfvalue.ZStringChar16, perfvalue.ZStringChar32:
		charSize := enc.ElementSize()
		if charSize == 0 {
			charSize = 1
		}
		start := e.pos
		i := e.pos
		for i+charSize <= len(e.payload) {
			zero := true
			for k := 0; k < charSize; k++ {
				if e.payload[i+k] != 0 {
					zero = false
					break
				}
			}
			if zero {
				break
			}
			i += charSize
		}
		data := e.payload[start:i]
		if i+charSize <= len(e.payload) {
			e.pos = i + charSize // skip terminator
		} else {
			e.pos = len(e.payload) // truncated: no terminator found
		}
		return perfvalue.PerfValue{
			Bytes: data, Encoding: enc, Format: format,
			ElementCount: 1, ElementSize: 0, FieldTag: tag, Order: e.order,
		}, ""

	case perfvalue.StringLength16Char8, perfvalue.StringLength16Char16, perfvalue.StringLength16Char32:
		if e.pos+2 > len(e.payload) {
			return perfvalue.PerfValue{}, "truncated before string length"
		}
		length := int(e.order.Uint16(e.payload[e.pos:]))
		e.pos += 2
		charSize := enc.ElementSize()
		if charSize == 0 {
			charSize = 1
		}
		nbytes := length * charSize
		if e.pos+nbytes > len(e.payload) {
			nbytes = len(e.payload) - e.pos
		}
		data := e.payload[e.pos : e.pos+nbytes]
		e.pos += nbytes
		return perfvalue.PerfValue{
			Bytes: data, Encoding: enc, Format: format,
			ElementCount: 1, ElementSize: 0, FieldTag: tag, Order: e.order,
		}, ""

	case perfvalue.BinaryLength16Char8:
		if e.pos+2 > len(e.payload) {
			return perfvalue.PerfValue{}, "truncated before binary length"
		}
		length := int(e.order.Uint16(e.payload[e.pos:]))
		e.pos += 2
		if e.pos+length > len(e.payload) {
			length = len(e.payload) - e.pos
		}
		data := e.payload[e.pos : e.pos+length]
		e.pos += length

		f := format
		switch length {
		case 0:
			return perfvalue.PerfValue{
				Bytes: nil, Encoding: enc, Format: f,
				ElementCount: 0, ElementSize: 0, FieldTag: tag, Order: e.order,
			}, ""
		case 1, 2, 4, 8:
			return perfvalue.PerfValue{
				Bytes: data, Encoding: enc, Format: f,
				ElementCount: 1, ElementSize: length, FieldTag: tag, Order: e.order,
			}, ""
		default:
			return perfvalue.PerfValue{
				Bytes: data, Encoding: enc, Format: perfvalue.HexBytes,
				ElementCount: 1, ElementSize: 0, FieldTag: tag, Order: e.order,
			}, ""
		}

	default:
		size := fixedSize
		if size == 0 {
			size = enc.ElementSize()
		}
		if size == 0 {
			return perfvalue.PerfValue{}, "value field has unknown/invalid encoding"
		}
		if e.pos+size > len(e.payload) {
			return perfvalue.PerfValue{}, "truncated value field"
		}
		data := e.payload[e.pos : e.pos+size]
		e.pos += size
		return perfvalue.PerfValue{
			Bytes: data, Encoding: enc, Format: format,
			ElementCount: 1, ElementSize: size, FieldTag: tag, Order: e.order,
		}, ""
	}
}

// MoveNextSibling advances past the current item (and, for
// structs/arrays, everything nested within it) without visiting its
// children individually. For arrays of fixed-size elements this
// consumes exactly elementCount*elementSize bytes in O(1).
func (e *Enumerator) MoveNextSibling() bool {
	switch e.state {
	case StateArrayBegin:
		top := &e.stack[len(e.stack)-1]
		if !top.isStruct && top.elemFixed != 0 {
			e.pos += top.elementsLeft * top.elemFixed
			top.elementsLeft = 0
			e.stack = e.stack[:len(e.stack)-1]
			e.state = StateArrayEnd
			e.cur = ItemInfo{NameBytes: top.name, PathDepth: e.depth()}
			itemsTotal.Inc()
			return true
		}
		// Variable-length or struct elements: fall back to
		// stepping through the enumerator until this array's own
		// ArrayEnd, which pops its frame.
		d := len(e.stack) - 1
		for !(e.state == StateArrayEnd && len(e.stack) == d) {
			if !e.MoveNext() {
				return false
			}
		}
		return true

	case StateStructBegin:
		d := len(e.stack) - 1
		for !(e.state == StateStructEnd && len(e.stack) == d) {
			if !e.MoveNext() {
				return false
			}
		}
		return true

	default:
		return e.MoveNext()
	}
}
