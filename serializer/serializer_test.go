package serializer

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func TestSerializers(t *testing.T) {
	for name, s := range map[string]Serializer{"json": JSON{}, "yaml": YAML{}} {
		t.Run(name, func(t *testing.T) {
			data, err := s.Serialize(record{ID: 1, Name: "a"})
			require.NoError(t, err)

			var got record
			require.NoError(t, s.Deserialize(bytes.NewReader(data), &got))
			assert.Equal(t, record{ID: 1, Name: "a"}, got)
		})
	}
}

func TestJSON_Output(t *testing.T) {
	data, err := JSON{}.Serialize(record{ID: 1, Name: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"a"}`, string(data))

	indented, err := JSON{Indent: "  "}.Serialize(record{ID: 1})
	require.NoError(t, err)
	assert.Contains(t, string(indented), "\n  \"id\": 1")
}

func TestDeserialize_Errors(t *testing.T) {
	var v record

	err := JSON{}.Deserialize(strings.NewReader("{not json"), &v)
	assert.Error(t, err)

	err = JSON{}.Deserialize(strings.NewReader(""), &v)
	assert.ErrorIs(t, err, io.EOF)

	err = YAML{}.Deserialize(strings.NewReader("id: [unterminated"), &v)
	assert.Error(t, err)
}

func TestByName(t *testing.T) {
	s, err := ByName("")
	require.NoError(t, err)
	assert.IsType(t, JSON{}, s)

	s, err = ByName("YAML")
	require.NoError(t, err)
	assert.IsType(t, YAML{}, s)

	_, err = ByName("xml")
	assert.Error(t, err)
}
