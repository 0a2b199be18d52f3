package perfjson

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSinkFlatObject(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONSink(&buf)
	s.BeginObj()
	s.PropName("n")
	s.WriteString("hello")
	s.PropName("count")
	s.WriteNumber("42")
	s.PropName("ok")
	s.WriteBool(true)
	s.PropName("missing")
	s.WriteNull()
	s.EndObj()
	require.NoError(t, s.Flush())

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "hello", got["n"])
	assert.Equal(t, float64(42), got["count"])
	assert.Equal(t, true, got["ok"])
	assert.Nil(t, got["missing"])
}

func TestJSONSinkNestedArrayAndObject(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONSink(&buf)
	s.BeginObj()
	s.PropName("items")
	s.BeginArr()
	s.WriteNumber("1")
	s.WriteNumber("2")
	s.BeginObj()
	s.PropName("a")
	s.WriteString("b")
	s.EndObj()
	s.EndArr()
	s.EndObj()
	require.NoError(t, s.Flush())

	var got struct {
		Items []interface{} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got.Items, 3)
	assert.Equal(t, float64(1), got.Items[0])
	assert.Equal(t, float64(2), got.Items[1])
	assert.Equal(t, map[string]interface{}{"a": "b"}, got.Items[2])
}

func TestJSONSinkPropNameEscaping(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONSink(&buf)
	s.BeginObj()
	s.PropName(`weird"name`)
	s.WriteString("value")
	s.EndObj()
	require.NoError(t, s.Flush())

	var got map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "value", got[`weird"name`])
}
