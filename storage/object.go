package storage

import (
	"bytes"
	"context"
	"fmt"
)

// SaveObject serializes v with the storage serializer and writes it to path.
// The path is checked before v is serialized.
func SaveObject[T any](ctx context.Context, s *Storage, path string, v T) (bool, error) {
	if err := checkPath(path); err != nil {
		return false, err
	}
	data, err := s.serializer.Serialize(v)
	if err != nil {
		return false, fmt.Errorf("failed to serialize %s: %w", path, err)
	}
	return s.SaveFile(ctx, path, bytes.NewReader(data))
}

// GetObject reads path and deserializes it into a T. A missing path yields
// the zero T and a nil error.
func GetObject[T any](ctx context.Context, s *Storage, path string) (T, error) {
	var v T
	rc, err := s.open(ctx, path)
	if err != nil || rc == nil {
		return v, err
	}
	defer rc.Close()

	if err := s.serializer.Deserialize(rc, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to deserialize %s: %w", path, err)
	}
	return v, nil
}
