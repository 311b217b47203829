package provider

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) (*LocalProvider, string) {
	t.Helper()
	tempBase := t.TempDir()
	p, err := NewLocalProvider(tempBase)
	require.NoError(t, err)
	return p, tempBase
}

func TestLocalProvider_GetFileInfo(t *testing.T) {
	p, tempBase := newLocal(t)
	ctx := context.Background()

	testFile := "test-stat.txt"
	testContent := []byte("hello stat")
	require.NoError(t, os.WriteFile(filepath.Join(tempBase, testFile), testContent, 0644))

	info, err := p.GetFileInfo(ctx, testFile)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, testFile, info.Path)
	assert.Equal(t, int64(len(testContent)), info.Size)
	assert.False(t, info.Created.IsZero())
	assert.False(t, info.Modified.IsZero())
	assert.Equal(t, time.UTC, info.Modified.Location())
}

func TestLocalProvider_FoldersAreNotFiles(t *testing.T) {
	p, tempBase := newLocal(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(tempBase, "subdir"), 0755))

	info, err := p.GetFileInfo(ctx, "subdir")
	assert.NoError(t, err)
	assert.Nil(t, info, "a folder has no file info")

	_, err = p.GetFileStream(ctx, "subdir")
	assert.True(t, IsNotFound(err), "got %v", err)

	ok, err := p.DeleteFile(ctx, "subdir")
	assert.NoError(t, err)
	assert.False(t, ok, "folder delete is a no-op")
}

func TestLocalProvider_SaveFileLeavesNoTempFiles(t *testing.T) {
	p, tempBase := newLocal(t)
	ctx := context.Background()

	_, err := p.SaveFile(ctx, "nested/test-write.txt", strings.NewReader("hello write"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(tempBase, "nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "test-write.txt", entries[0].Name())

	content, err := os.ReadFile(filepath.Join(tempBase, "nested", "test-write.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello write", string(content))
}

func TestLocalProvider_ListingSkipsTempFiles(t *testing.T) {
	p, tempBase := newLocal(t)

	require.NoError(t, os.WriteFile(filepath.Join(tempBase, tempPrefix+"123"), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tempBase, "done.txt"), []byte("done"), 0644))

	files, err := p.GetFileList(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "done.txt", files[0].Path)
}

func TestLocalProvider_RejectsTempPrefix(t *testing.T) {
	p, tempBase := newLocal(t)
	ctx := context.Background()

	_, err := p.SaveFile(ctx, "done.txt", strings.NewReader("done"))
	require.NoError(t, err)

	reserved := "x/" + tempPrefix + "1"
	_, err = p.SaveFile(ctx, reserved, strings.NewReader("hidden"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = p.GetFileInfo(ctx, reserved)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = p.Exists(ctx, reserved)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = p.RenameFile(ctx, "done.txt", reserved)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = p.CopyFile(ctx, "done.txt", tempPrefix+"copy")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// the prefix only applies to the base name
	_, err = p.SaveFile(ctx, tempPrefix+"dir/ok.txt", strings.NewReader("visible"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(tempBase, "x"))
	assert.True(t, os.IsNotExist(err), "rejected keys must not touch the disk")
	ok, err := p.Exists(ctx, "done.txt")
	require.NoError(t, err)
	assert.True(t, ok, "rejected rename must leave the source alone")

	files, err := p.GetFileList(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestLocalProvider_PrunesEmptyFolders(t *testing.T) {
	p, tempBase := newLocal(t)
	ctx := context.Background()

	for _, key := range []string{"a/b/c/one.txt", "a/two.txt"} {
		_, err := p.SaveFile(ctx, key, strings.NewReader(key))
		require.NoError(t, err)
	}

	ok, err := p.DeleteFile(ctx, "a/b/c/one.txt")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = os.Stat(filepath.Join(tempBase, "a", "b"))
	assert.True(t, os.IsNotExist(err), "a/b should be pruned, got %v", err)
	_, err = os.Stat(filepath.Join(tempBase, "a", "two.txt"))
	assert.NoError(t, err, "a/two.txt must survive")

	ok, err = p.RenameFile(ctx, "a/two.txt", "z/two.txt")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = os.Stat(filepath.Join(tempBase, "a"))
	assert.True(t, os.IsNotExist(err), "a should be pruned, got %v", err)
	_, err = os.Stat(tempBase)
	assert.NoError(t, err, "root must never be pruned")
}

func TestLocalProvider_RootIsAbsolute(t *testing.T) {
	t.Chdir(t.TempDir())

	p, err := NewLocalProvider("data")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p.Root()), "root %q", p.Root())
	_, err = os.Stat(p.Root())
	assert.NoError(t, err, "root should be created")

	_, err = NewLocalProvider("")
	assert.Error(t, err)
}
