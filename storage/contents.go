package storage

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/franksops/filestore/engine"
)

// GetFileContentsAsBytes reads the whole entry at path. It returns nil, nil
// when path does not exist.
func (s *Storage) GetFileContentsAsBytes(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.open(ctx, path)
	if err != nil || rc == nil {
		return nil, err
	}
	defer rc.Close()

	data, err := engine.ReadAll(ctx, rc, s.buffers)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// GetFileContentsAsText reads the entry at path as UTF-8 text. Invalid
// sequences are replaced with U+FFFD. The bool is false when path does not
// exist.
func (s *Storage) GetFileContentsAsText(ctx context.Context, path string) (string, bool, error) {
	data, err := s.GetFileContentsAsBytes(ctx, path)
	if err != nil || data == nil {
		return "", false, err
	}
	if utf8.Valid(data) {
		return string(data), true, nil
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError)), true, nil
}

// SaveFileText writes text to path as UTF-8.
func (s *Storage) SaveFileText(ctx context.Context, path, text string) (bool, error) {
	return s.SaveFile(ctx, path, strings.NewReader(text))
}

// SaveFileBytes writes data to path.
func (s *Storage) SaveFileBytes(ctx context.Context, path string, data []byte) (bool, error) {
	return s.SaveFile(ctx, path, bytes.NewReader(data))
}
