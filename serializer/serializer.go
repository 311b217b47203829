// Package serializer turns values into bytes and back for the object
// helpers of the storage package.
package serializer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Serializer converts values to and from a byte representation.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(r io.Reader, v any) error
}

// JSON serializes with encoding/json.
type JSON struct {
	// Indent, when set, pretty-prints output with this string per level.
	Indent string
}

func (s JSON) Serialize(v any) ([]byte, error) {
	if s.Indent != "" {
		return json.MarshalIndent(v, "", s.Indent)
	}
	return json.Marshal(v)
}

func (JSON) Deserialize(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// YAML serializes with gopkg.in/yaml.v3.
type YAML struct{}

func (YAML) Serialize(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

func (YAML) Deserialize(r io.Reader, v any) error {
	return yaml.NewDecoder(r).Decode(v)
}

// ByName returns the serializer registered under name ("json" or "yaml").
func ByName(name string) (Serializer, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "yaml", "yml":
		return YAML{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}
