// Package perfjson pairs the EventHeader enumerator (or a plain
// tracefs Format) with an abstract JSON sink, producing one JSON
// object per decoded event.
package perfjson

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// Sink is the abstract, streaming write surface the driver emits to:
// a depth-first sequence of container begin/end and scalar-write
// calls. Implementations are free to buffer or write through
// immediately; the driver never looks behind a Sink's back.
type Sink interface {
	BeginObj()
	EndObj()
	BeginArr()
	EndArr()
	PropName(name string)
	WriteString(s string)
	// WriteNumber takes an already-formatted JSON number token (e.g.
	// from strconv.FormatUint/FormatInt) rather than a float64, so
	// that 64-bit values aren't silently rounded to float64
	// precision.
	WriteNumber(token string)
	WriteBool(b bool)
	WriteNull()
}

// kind of an open container on JSONSink's stack.
type kind uint8

const (
	kindObj kind = iota
	kindArr
)

// JSONSink is a Sink backed by goccy/go-json's Marshal for string and
// property-name escaping. Tokens are appended to a scratch buffer that
// is written to w once it holds 64KiB or more, and on Flush, instead of
// issuing one io.Writer call per token.
type JSONSink struct {
	w    io.Writer
	buf  []byte
	kind []kind
	n    []int // number of values written so far at this depth
	err  error
}

const jsonSinkScratchCap = 64 * 1024

// NewJSONSink returns a JSONSink that writes to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w, buf: make([]byte, 0, 4096)}
}

// Err returns the first write error encountered, if any.
func (s *JSONSink) Err() error { return s.err }

func (s *JSONSink) raw(b []byte) {
	if s.err != nil {
		return
	}
	s.buf = append(s.buf, b...)
	if len(s.buf) >= jsonSinkScratchCap {
		s.flush()
	}
}

func (s *JSONSink) flush() {
	if s.err != nil || len(s.buf) == 0 {
		return
	}
	_, s.err = s.w.Write(s.buf)
	s.buf = s.buf[:0]
}

// Flush forces any buffered bytes out to the underlying writer. Call
// after each top-level event to bound memory and get streaming
// output.
func (s *JSONSink) Flush() error {
	s.flush()
	return s.err
}

// Newline writes a single '\n' byte outside of any JSON value
// grammar, for callers that want newline-delimited JSON with one
// object per line.
func (s *JSONSink) Newline() {
	s.raw([]byte{'\n'})
}

// sepForValue writes a leading comma if this value isn't the first
// one at the current array depth. Object values never need this: a
// PropName call already accounted for the comma between key-value
// pairs.
func (s *JSONSink) sepForValue() {
	if len(s.kind) == 0 {
		return
	}
	top := len(s.kind) - 1
	if s.kind[top] != kindArr {
		return
	}
	if s.n[top] > 0 {
		s.raw([]byte{','})
	}
	s.n[top]++
}

func (s *JSONSink) BeginObj() {
	s.sepForValue()
	s.raw([]byte{'{'})
	s.kind = append(s.kind, kindObj)
	s.n = append(s.n, 0)
}

func (s *JSONSink) EndObj() {
	s.raw([]byte{'}'})
	s.kind = s.kind[:len(s.kind)-1]
	s.n = s.n[:len(s.n)-1]
}

func (s *JSONSink) BeginArr() {
	s.sepForValue()
	s.raw([]byte{'['})
	s.kind = append(s.kind, kindArr)
	s.n = append(s.n, 0)
}

func (s *JSONSink) EndArr() {
	s.raw([]byte{']'})
	s.kind = s.kind[:len(s.kind)-1]
	s.n = s.n[:len(s.n)-1]
}

func (s *JSONSink) PropName(name string) {
	top := len(s.kind) - 1
	if s.n[top] > 0 {
		s.raw([]byte{','})
	}
	s.n[top]++
	b, err := gojson.Marshal(name)
	if err != nil {
		s.err = err
		return
	}
	s.raw(b)
	s.raw([]byte{':'})
}

func (s *JSONSink) WriteString(v string) {
	s.sepForValue()
	b, err := gojson.Marshal(v)
	if err != nil {
		s.err = err
		return
	}
	s.raw(b)
}

func (s *JSONSink) WriteNumber(token string) {
	s.sepForValue()
	s.raw([]byte(token))
}

func (s *JSONSink) WriteBool(v bool) {
	s.sepForValue()
	if v {
		s.raw([]byte("true"))
	} else {
		s.raw([]byte("false"))
	}
}

func (s *JSONSink) WriteNull() {
	s.sepForValue()
	s.raw([]byte("null"))
}
