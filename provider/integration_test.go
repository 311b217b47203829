package provider

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLocalToBoltTransfer streams a file from a local provider into a bbolt provider.
func TestLocalToBoltTransfer(t *testing.T) {
	srcDir := t.TempDir()
	testContent := []byte("Hello, filestore! This is a test file for integration.")
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "docs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "docs", "test.txt"), testContent, 0644))

	src, err := NewLocalProvider(srcDir)
	require.NoError(t, err)
	dst, err := NewBoltProvider(filepath.Join(t.TempDir(), "dst.db"))
	require.NoError(t, err)
	defer dst.Close()

	ctx := context.Background()

	files, err := src.GetFileList(ctx, ListOptions{Pattern: Match("docs/")})
	require.NoError(t, err)
	require.Len(t, files, 1)

	for _, spec := range files {
		rc, err := src.GetFileStream(ctx, spec.Path)
		require.NoError(t, err)
		_, err = dst.SaveFile(ctx, spec.Path, rc)
		rc.Close()
		require.NoError(t, err)
	}

	rc, err := dst.GetFileStream(ctx, "docs/test.txt")
	require.NoError(t, err)
	defer rc.Close()
	dstData, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, testContent, dstData)
}

func TestBoltProvider_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "files.db")
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	p, err := NewBoltProvider(dbPath, WithClock(func() time.Time { return created }))
	require.NoError(t, err)
	_, err = p.SaveFile(ctx, "kept.txt", bytes.NewReader([]byte("kept")))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.GetFileInfo(ctx, "kept.txt")
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := NewBoltProvider(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	info, err := reopened.GetFileInfo(ctx, "kept.txt")
	require.NoError(t, err)
	require.NotNil(t, info, "kept.txt lost on reopen")
	assert.True(t, info.Created.Equal(created), "created %v", info.Created)
}

func TestMemoryProvider_OverwriteKeepsCreated(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewMemoryProvider(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := p.SaveFile(ctx, "a.txt", bytes.NewReader([]byte("one")))
	require.NoError(t, err)
	first := now
	now = now.Add(time.Hour)
	_, err = p.SaveFile(ctx, "a.txt", bytes.NewReader([]byte("two")))
	require.NoError(t, err)

	info, err := p.GetFileInfo(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, info.Created.Equal(first), "created %v", info.Created)
	assert.True(t, info.Modified.Equal(now), "modified %v", info.Modified)
}
