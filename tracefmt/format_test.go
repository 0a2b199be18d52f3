package tracefmt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclements/go-eventheader/perfvalue"
)

const sampleFormat = `name: sched_switch
ID: 314
format:
	field:unsigned short common_type;	offset:0;	size:2;	signed:0;
	field:unsigned char common_flags;	offset:2;	size:1;	signed:0;
	field:unsigned char common_preempt_count;	offset:3;	size:1;	signed:0;
	field:int common_pid;	offset:4;	size:4;	signed:1;

	field:char prev_comm[16];	offset:8;	size:16;	signed:0;
	field:pid_t prev_pid;	offset:24;	size:4;	signed:1;
	field:int prev_prio;	offset:28;	size:4;	signed:1;
	field:long prev_state;	offset:32;	size:8;	signed:1;
	field:char next_comm[16];	offset:40;	size:16;	signed:0;
	field:pid_t next_pid;	offset:56;	size:4;	signed:1;
	field:int next_prio;	offset:60;	size:4;	signed:1;

print fmt: "prev_comm=%s prev_pid=%d", REC->prev_comm, REC->prev_pid
`

func TestParseBasicFormat(t *testing.T) {
	f, err := Parse(sampleFormat, true)
	require.NoError(t, err)
	require.NotNil(t, f)

	assert.Equal(t, "sched_switch", f.Name)
	assert.Equal(t, uint32(314), f.ID)
	assert.Equal(t, 4, f.CommonFieldCount)
	assert.Equal(t, 8, f.CommonFieldsSize)
	assert.Equal(t, TraceEvent, f.DecodingStyle)
	require.Len(t, f.Fields, 11)

	prevComm := f.Fields[4]
	assert.Equal(t, "prev_comm", prevComm.Name)
	assert.Equal(t, perfvalue.String8, prevComm.Format)
	assert.Equal(t, 16, prevComm.ArrayCount)

	prevState := f.Fields[7]
	assert.Equal(t, "prev_state", prevState.Name)
	assert.Equal(t, perfvalue.Value64, prevState.Encoding.Base())
	assert.Equal(t, perfvalue.SignedInt, prevState.Format)
}

func TestParseMissingNameOrID(t *testing.T) {
	f, err := Parse("format:\n\tfield:int x;\toffset:0;\tsize:4;\tsigned:1;\n", true)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestParseDetectsEventHeaderStyle(t *testing.T) {
	text := `name: my_provider_L4K1
ID: 900
format:
	field:unsigned short common_type;	offset:0;	size:2;	signed:0;
	field:unsigned char common_flags;	offset:2;	size:1;	signed:0;
	field:unsigned char common_preempt_count;	offset:3;	size:1;	signed:0;
	field:int common_pid;	offset:4;	size:4;	signed:1;

	field:__data_loc unsigned char[] eventheader_flags;	offset:8;	size:4;	signed:0;

print fmt: "..."
`
	f, err := Parse(text, true)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, EventHeader, f.DecodingStyle)
}

func TestFieldFormatValueScalar(t *testing.T) {
	ff := FieldFormat{
		Offset:      4,
		Size:        4,
		Encoding:    perfvalue.Value32,
		Format:      perfvalue.SignedInt,
		ElementSize: 4,
	}
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[4:], uint32(int32(-7)))

	v := ff.Value(payload, binary.LittleEndian)
	assert.Equal(t, int32(-7), v.I32())
	assert.Equal(t, 1, v.ElementCount)
}

func TestFieldFormatValueDataLoc(t *testing.T) {
	ff := FieldFormat{
		Offset:      8,
		Size:        4,
		Encoding:    perfvalue.StringLength16Char8,
		Format:      perfvalue.StringUtf,
		ArrayCount:  0,
		ElementSize: 0,
	}
	payload := make([]byte, 16)
	copy(payload[12:], "hi")
	// __data_loc packs (length:16, offset:16) little-endian in the
	// field's own 4 bytes.
	loc := uint32(12) | uint32(2)<<16
	binary.LittleEndian.PutUint32(payload[8:], loc)

	v := ff.Value(payload, binary.LittleEndian)
	assert.Equal(t, "hi", string(v.Bytes))
}
