package engine

import (
	"bytes"
	"context"
	"hash/crc64"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumReader(t *testing.T) {
	data := []byte("hello world")
	cr := NewChecksumReader(bytes.NewReader(data))

	got, err := io.ReadAll(cr)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, crc64.Checksum(data, crc64.MakeTable(crc64.ISO)), cr.Checksum())
	assert.Equal(t, int64(len(data)), cr.BytesRead())
}

func TestStreamChecksum_MatchesReader(t *testing.T) {
	data := strings.Repeat("test data for checksum consistency ", 2000)

	cr := NewChecksumReader(strings.NewReader(data))
	_, err := io.Copy(io.Discard, cr)
	require.NoError(t, err)

	sum, n, err := StreamChecksum(context.Background(), strings.NewReader(data), nil)
	require.NoError(t, err)
	assert.Equal(t, cr.Checksum(), sum)
	assert.Equal(t, int64(len(data)), n)
}

func TestStreamChecksum_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := StreamChecksum(ctx, strings.NewReader("data"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
