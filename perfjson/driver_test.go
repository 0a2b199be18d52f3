package perfjson

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclements/go-eventheader/eventheader"
	"github.com/aclements/go-eventheader/perffile"
	"github.com/aclements/go-eventheader/perfvalue"
)

// buildEventHeaderPayload assembles a minimal EventHeader payload: the
// fixed prefix, one non-chained Metadata extension naming a single
// scalar field, and that field's value bytes.
func buildEventHeaderPayload(eventName, fieldName string, enc perfvalue.Encoding, value []byte) []byte {
	body := append([]byte(eventName), 0)
	body = append(body, []byte(fieldName)...)
	body = append(body, 0, byte(enc))

	var buf []byte
	buf = append(buf, byte(eventheader.FlagExtension), 0, 0, 0, 0, 0, 0, 0)
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:], uint16(len(body)))
	binary.LittleEndian.PutUint16(hdr[2:], uint16(eventheader.ExtensionMetadata))
	buf = append(buf, hdr[:]...)
	buf = append(buf, body...)
	buf = append(buf, value...)
	return buf
}

func TestWriteEventScalarField(t *testing.T) {
	val := make([]byte, 4)
	binary.LittleEndian.PutUint32(val, 7)
	payload := buildEventHeaderPayload("MyEvent", "count", perfvalue.Value32, val)

	enum := eventheader.New(eventheader.DecoderOptions{})
	require.True(t, enum.StartEvent(payload, 0))

	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	d := &Driver{}
	info := &perffile.SampleEventInfo{TimeNS: 1000, CPU: 2, PID: 3, TID: 4}
	require.NoError(t, d.WriteEvent(sink, info, enum))
	require.NoError(t, sink.Flush())

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "MyEvent", got["n"])
	assert.Equal(t, float64(7), got["count"])
	_, hasMeta := got["meta"]
	assert.False(t, hasMeta)
}

func TestWriteEventWithMeta(t *testing.T) {
	val := make([]byte, 4)
	binary.LittleEndian.PutUint32(val, 7)
	payload := buildEventHeaderPayload("MyEvent", "count", perfvalue.Value32, val)

	enum := eventheader.New(eventheader.DecoderOptions{})
	require.True(t, enum.StartEvent(payload, 0))

	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	d := &Driver{Opts: MetaOptions{IncludeCPU: true, IncludePID: true}}
	info := &perffile.SampleEventInfo{CPU: 2, PID: 3}
	require.NoError(t, d.WriteEvent(sink, info, enum))
	require.NoError(t, sink.Flush())

	var got struct {
		Meta struct {
			CPU float64 `json:"cpu"`
			PID float64 `json:"pid"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, float64(2), got.Meta.CPU)
	assert.Equal(t, float64(3), got.Meta.PID)
}

func TestWriteScalarHexIntAsString(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	v := perfvalue.PerfValue{
		Bytes:        []byte{0xff, 0x00, 0x00, 0x00},
		Encoding:     perfvalue.Value32,
		Format:       perfvalue.HexInt,
		ElementCount: 1,
		ElementSize:  4,
		Order:        binary.LittleEndian,
	}
	writeScalar(sink, v, MetaOptions{IntHexAsString: true})
	require.NoError(t, sink.Flush())
	assert.Equal(t, `"0xff"`, buf.String())
}

func TestWriteScalarBinaryLength16Char8Scalar(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	v := perfvalue.PerfValue{
		Bytes:        []byte{0x2A, 0x00, 0x00, 0x00},
		Encoding:     perfvalue.BinaryLength16Char8,
		Format:       perfvalue.SignedInt,
		ElementCount: 1,
		ElementSize:  4,
		Order:        binary.LittleEndian,
	}
	writeScalar(sink, v, MetaOptions{})
	require.NoError(t, sink.Flush())
	assert.Equal(t, "42", buf.String())
}

func TestWriteScalarBinaryLength16Char8HexFallback(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	v := perfvalue.PerfValue{
		Bytes:        []byte{0x01, 0x02, 0x03},
		Encoding:     perfvalue.BinaryLength16Char8,
		Format:       perfvalue.HexBytes,
		ElementCount: 1,
		ElementSize:  0,
		Order:        binary.LittleEndian,
	}
	writeScalar(sink, v, MetaOptions{})
	require.NoError(t, sink.Flush())
	assert.Equal(t, `"010203"`, buf.String())
}

func TestWriteErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	d := &Driver{}
	info := &perffile.SampleEventInfo{CPU: 2, PID: 3, TID: 3}
	d.WriteErrorEvent(sink, info, "perffile: id not found")
	require.NoError(t, sink.Flush())

	var got struct {
		Meta struct {
			CPU float64 `json:"cpu"`
			PID float64 `json:"pid"`
		} `json:"meta"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, float64(2), got.Meta.CPU)
	assert.Equal(t, "perffile: id not found", got.Error)
}

func TestWriteScalarString8TrimsNUL(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	v := perfvalue.PerfValue{
		Bytes:    append([]byte("hi"), 0, 0),
		Encoding: perfvalue.Value8 | perfvalue.CArrayFlag,
		Format:   perfvalue.String8,
	}
	writeScalar(sink, v, MetaOptions{})
	require.NoError(t, sink.Flush())
	assert.Equal(t, `"hi"`, buf.String())
}
