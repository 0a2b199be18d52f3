package perfjson

import (
	"encoding/hex"
	"strconv"
	"unicode/utf16"

	"github.com/aclements/go-eventheader/eventheader"
	"github.com/aclements/go-eventheader/perffile"
	"github.com/aclements/go-eventheader/perfvalue"
)

// MetaOptions selects which identifying fields from SampleEventInfo
// and EventInfo are written into an event's "meta" sub-object, plus
// whether integers are rendered as hex strings instead of JSON
// numbers.
type MetaOptions struct {
	IncludeTime     bool
	IncludeCPU      bool
	IncludePID      bool
	IncludeTID      bool
	IncludeProvider bool
	IncludeLevel    bool
	IncludeKeyword  bool

	// IntHexAsString renders HexInt-formatted fields (and the
	// keyword in meta) as a quoted "0x..." string instead of a JSON
	// number, avoiding precision loss for 64-bit values in JSON
	// consumers that decode numbers as float64.
	IntHexAsString bool
}

func (o MetaOptions) anyMeta() bool {
	return o.IncludeTime || o.IncludeCPU || o.IncludePID || o.IncludeTID ||
		o.IncludeProvider || o.IncludeLevel || o.IncludeKeyword
}

// Driver walks a decoded event (either an EventHeader enumerator's
// state machine or a plain tracefs Format) and writes it to a Sink as
// one JSON object.
type Driver struct {
	Opts MetaOptions
}

// WriteEvent walks enum to completion, starting from the event enum
// is currently positioned at (after a successful StartEvent), writing
// one JSON object to w: an identity string "n", the event's user
// fields (array- or object-wrapped to match the enumerator's nesting),
// and an optional "meta" object.
func (d *Driver) WriteEvent(w Sink, info *perffile.SampleEventInfo, enum *eventheader.Enumerator) error {
	w.BeginObj()

	ev := enum.Event()
	if name := ev.Name(); name != "" {
		w.PropName("n")
		w.WriteString(name)
	}

	// inArray tracks, per currently-open container, whether it's an
	// array: array elements carry no property name, object members
	// do.
	var inArray []bool
	topIsArray := func() bool { return len(inArray) > 0 && inArray[len(inArray)-1] }

	for enum.MoveNext() {
		item := enum.Item()
		switch enum.State() {
		case eventheader.StateValue:
			if !topIsArray() {
				w.PropName(item.Name())
			}
			writeScalar(w, item.Value, d.Opts)

		case eventheader.StateArrayBegin:
			w.PropName(item.Name())
			w.BeginArr()
			inArray = append(inArray, true)

		case eventheader.StateArrayElement:
			writeScalar(w, item.Value, d.Opts)

		case eventheader.StateArrayEnd:
			w.EndArr()
			inArray = inArray[:len(inArray)-1]

		case eventheader.StateStructBegin:
			if !topIsArray() {
				w.PropName(item.Name())
			}
			w.BeginObj()
			inArray = append(inArray, false)

		case eventheader.StateStructEnd:
			w.EndObj()
			inArray = inArray[:len(inArray)-1]
		}
	}

	var evErr *EnumeratorError
	if kind, msg := enum.LastError(); kind != eventheader.ErrNone {
		evErr = &EnumeratorError{Kind: kind, Msg: msg}
		w.PropName("error")
		w.WriteString(evErr.Error())
	}

	if d.Opts.anyMeta() {
		w.PropName("meta")
		writeMeta(w, info, ev, d.Opts)
	}
	w.EndObj()

	if evErr != nil {
		return evErr
	}
	return nil
}

// WriteErrorEvent writes a best-effort JSON object for a sample that
// couldn't be fully decoded: the identifying header fields info
// carries (time/cpu/pid/tid, forced on regardless of d.Opts.Include*
// since there's no payload to report instead) plus an "error"
// property naming why. Used for the IdNotFound (info carries only
// RawData/ByteOrder, so the header fields read as zero) and NoFormat
// (info is fully resolved; only the tracepoint payload is undecodable)
// recovery paths.
func (d *Driver) WriteErrorEvent(w Sink, info *perffile.SampleEventInfo, reason string) {
	headerOpts := d.Opts
	headerOpts.IncludeTime = true
	headerOpts.IncludeCPU = true
	headerOpts.IncludePID = true
	headerOpts.IncludeTID = true

	w.BeginObj()
	w.PropName("meta")
	writeMeta(w, info, eventheader.EventInfo{}, headerOpts)
	w.PropName("error")
	w.WriteString(reason)
	w.EndObj()
}

// EnumeratorError reports that an EventHeader enumerator stopped on a
// malformed payload partway through WriteEvent. The JSON object
// already written to the sink reflects everything decoded up to that
// point.
type EnumeratorError struct {
	Kind eventheader.ErrorKind
	Msg  string
}

func (e *EnumeratorError) Error() string {
	return "perfjson: " + e.Kind.String() + ": " + e.Msg
}

// WriteTraceFields writes one event object for a tracepoint sample
// whose format isn't EventHeader-encoded (tracefmt.TraceEvent style):
// every field in info.Format is extracted directly via
// FieldFormat.Value and written flat, since tracefs "format:" fields
// never nest.
func (d *Driver) WriteTraceFields(w Sink, info *perffile.SampleEventInfo) {
	w.BeginObj()
	if info.Format != nil {
		w.PropName("n")
		w.WriteString(info.Format.SystemName + ":" + info.Format.Name)

		for i := range info.Format.Fields {
			f := &info.Format.Fields[i]
			end := int(f.Offset) + int(f.Size)
			if end > len(info.RawData) {
				continue
			}
			v := f.Value(info.RawData, info.ByteOrder)
			w.PropName(f.Name)
			if v.ElementCount > 1 && v.ElementSize > 0 && v.Format.Base() != perfvalue.String8 {
				w.BeginArr()
				for i := 0; i < v.ElementCount; i++ {
					writeScalar(w, elementAt(v, i), d.Opts)
				}
				w.EndArr()
			} else {
				writeScalar(w, v, d.Opts)
			}
		}
	}
	if d.Opts.anyMeta() {
		w.PropName("meta")
		writeMeta(w, info, eventheader.EventInfo{}, d.Opts)
	}
	w.EndObj()
}

func elementAt(v perfvalue.PerfValue, i int) perfvalue.PerfValue {
	off := i * v.ElementSize
	return perfvalue.PerfValue{
		Bytes:        v.Bytes[off : off+v.ElementSize],
		Encoding:     v.Encoding,
		Format:       v.Format,
		ElementCount: 1,
		ElementSize:  v.ElementSize,
		FieldTag:     v.FieldTag,
		Order:        v.Order,
	}
}

func writeMeta(w Sink, info *perffile.SampleEventInfo, ev eventheader.EventInfo, opts MetaOptions) {
	w.BeginObj()
	if opts.IncludeTime {
		ts := info.TimeNS
		if info.SessionInfo != nil {
			ts = info.SessionInfo.WallClockNanos(ts)
		}
		w.PropName("time_ns")
		w.WriteNumber(strconv.FormatUint(ts, 10))
	}
	if opts.IncludeCPU {
		w.PropName("cpu")
		w.WriteNumber(strconv.FormatUint(uint64(info.CPU), 10))
	}
	if opts.IncludePID {
		w.PropName("pid")
		w.WriteNumber(strconv.FormatUint(uint64(info.PID), 10))
	}
	if opts.IncludeTID {
		w.PropName("tid")
		w.WriteNumber(strconv.FormatUint(uint64(info.TID), 10))
	}
	if opts.IncludeProvider && ev.ProviderName != "" {
		w.PropName("provider")
		w.WriteString(ev.ProviderName)
	}
	if opts.IncludeLevel {
		w.PropName("level")
		w.WriteNumber(strconv.FormatUint(uint64(ev.Level), 10))
	}
	if opts.IncludeKeyword {
		w.PropName("keyword")
		if opts.IntHexAsString {
			w.WriteString("0x" + strconv.FormatUint(ev.Keyword, 16))
		} else {
			w.WriteNumber(strconv.FormatUint(ev.Keyword, 10))
		}
	}
	w.EndObj()
}

func writeScalar(w Sink, v perfvalue.PerfValue, opts MetaOptions) {
	if v.Bytes == nil {
		w.WriteNull()
		return
	}

	switch v.Format.Base() {
	case perfvalue.Boolean:
		u, _, ok := readInt(v)
		if ok {
			w.WriteBool(u != 0)
			return
		}
	case perfvalue.HexBytes:
		w.WriteString(hex.EncodeToString(v.Bytes))
		return
	case perfvalue.Uuid:
		if len(v.Bytes) >= 16 {
			w.WriteString(v.GUID(0).String())
			return
		}
	case perfvalue.IPv4:
		if len(v.Bytes) >= 4 {
			w.WriteString(v.IPv4(0).String())
			return
		}
	case perfvalue.IPv6, perfvalue.IPAddress:
		if len(v.Bytes) >= 16 {
			w.WriteString(v.IPv6(0).String())
			return
		}
	case perfvalue.Port:
		if len(v.Bytes) >= 2 {
			w.WriteNumber(strconv.FormatUint(uint64(v.Port(0)), 10))
			return
		}
	case perfvalue.String8, perfvalue.StringUtf, perfvalue.StringUtfBom,
		perfvalue.StringXml, perfvalue.StringJson:
		w.WriteString(decodeString(v))
		return
	}

	switch v.Encoding.Base() {
	case perfvalue.ZStringChar8, perfvalue.ZStringChar16, perfvalue.ZStringChar32,
		perfvalue.StringLength16Char8, perfvalue.StringLength16Char16, perfvalue.StringLength16Char32:
		w.WriteString(decodeString(v))
		return
	case perfvalue.BinaryLength16Char8:
		// The enumerator keeps Encoding as BinaryLength16Char8 for a
		// null value (v.Bytes == nil, handled above), for a length
		// matching a scalar width (ElementSize 1/2/4/8, decoded as an
		// integer below) and for any other length (Format HexBytes,
		// handled by the Format switch above). A value with
		// ElementSize 0 that still reaches here is written as hex.
		if v.ElementSize == 0 {
			w.WriteString(hex.EncodeToString(v.Bytes))
			return
		}
	}

	u, i, ok := readInt(v)
	if !ok {
		w.WriteString(hex.EncodeToString(v.Bytes))
		return
	}
	switch v.Format.Base() {
	case perfvalue.HexInt:
		if opts.IntHexAsString {
			w.WriteString("0x" + strconv.FormatUint(u, 16))
		} else {
			w.WriteNumber(strconv.FormatUint(u, 10))
		}
	case perfvalue.SignedInt:
		w.WriteNumber(strconv.FormatInt(i, 10))
	case perfvalue.Float:
		if v.ElementSize == 4 {
			w.WriteNumber(strconv.FormatFloat(float64(v.F32()), 'g', -1, 32))
		} else {
			w.WriteNumber(strconv.FormatFloat(v.F64(), 'g', -1, 64))
		}
	default: // Default, UnsignedInt, Errno, Pid, Time
		w.WriteNumber(strconv.FormatUint(u, 10))
	}
}

// readInt interprets v's single element (ElementCount 1, as produced
// for both scalar values and individual array elements) as an
// integer, returning both the unsigned and signed view since the
// caller doesn't know which it needs until it looks at v.Format.
func readInt(v perfvalue.PerfValue) (u uint64, i int64, ok bool) {
	switch v.ElementSize {
	case 1:
		return uint64(v.U8()), int64(v.I8()), true
	case 2:
		return uint64(v.U16()), int64(v.I16()), true
	case 4:
		return uint64(v.U32()), int64(v.I32()), true
	case 8:
		return v.U64(), v.I64(), true
	}
	return 0, 0, false
}

func decodeString(v perfvalue.PerfValue) string {
	switch v.Encoding.Base() {
	case perfvalue.ZStringChar16, perfvalue.StringLength16Char16:
		return utf16String(v.Bytes, v.Order)
	case perfvalue.ZStringChar32, perfvalue.StringLength16Char32:
		return utf32String(v.Bytes, v.Order)
	default:
		return trimZ(v.Bytes)
	}
}

// trimZ drops trailing NUL padding left over from a fixed-size char
// buffer (e.g. "char comm[16]") or a NUL-terminated string.
func trimZ(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}

func utf16String(b []byte, order interface {
	Uint16([]byte) uint16
}) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = order.Uint16(b[i*2:])
	}
	for len(u) > 0 && u[len(u)-1] == 0 {
		u = u[:len(u)-1]
	}
	return string(utf16.Decode(u))
}

func utf32String(b []byte, order interface {
	Uint32([]byte) uint32
}) string {
	rs := make([]rune, len(b)/4)
	for i := range rs {
		rs[i] = rune(order.Uint32(b[i*4:]))
	}
	for len(rs) > 0 && rs[len(rs)-1] == 0 {
		rs = rs[:len(rs)-1]
	}
	return string(rs)
}
