package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type backendFactory struct {
	name string
	open func(t *testing.T) Provider
}

func backends() []backendFactory {
	return []backendFactory{
		{"memory", func(t *testing.T) Provider {
			return NewMemoryProvider()
		}},
		{"local", func(t *testing.T) Provider {
			p, err := NewLocalProvider(t.TempDir())
			require.NoError(t, err)
			return p
		}},
		{"bolt", func(t *testing.T) Provider {
			p, err := NewBoltProvider(filepath.Join(t.TempDir(), "files.db"))
			require.NoError(t, err)
			t.Cleanup(func() { p.Close() })
			return p
		}},
		{"s3", func(t *testing.T) Provider {
			return newS3Provider(newFakeS3(), "bucket", "prefix")
		}},
		{"gcs", func(t *testing.T) Provider {
			return newGCSProvider(newFakeGCS(), "bucket", "")
		}},
		{"azure", func(t *testing.T) Provider {
			return newAzureProvider(newFakeAzure(), "files", "tenant")
		}},
		{"metrics+retry", func(t *testing.T) Provider {
			m, err := WithMetrics(NewMemoryProvider(), prometheus.NewRegistry(), "test")
			require.NoError(t, err)
			return WithRetry(m, DefaultRetryPolicy(), nil)
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, p Provider)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func save(t *testing.T, p Provider, path, content string) {
	t.Helper()
	ok, err := p.SaveFile(context.Background(), path, strings.NewReader(content))
	require.NoError(t, err)
	require.True(t, ok)
}

func read(t *testing.T, p Provider, path string) string {
	t.Helper()
	rc, err := p.GetFileStream(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func paths(files []FileSpec) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestConformance_RoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"empty.bin":        {},
		"small.txt":        []byte("hello"),
		"nested/large.bin": bytes.Repeat([]byte("0123456789abcdef"), 5000),
	}
	forEachBackend(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		for path, payload := range payloads {
			ok, err := p.SaveFile(ctx, path, bytes.NewReader(payload))
			require.NoError(t, err)
			require.True(t, ok)

			assert.Equal(t, string(payload), read(t, p, path), path)

			info, err := p.GetFileInfo(ctx, path)
			require.NoError(t, err)
			require.NotNil(t, info)
			assert.Equal(t, path, info.Path)
			assert.Equal(t, int64(len(payload)), info.Size)
			assert.False(t, info.Modified.IsZero())
		}
	})
}

func TestConformance_Overwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		save(t, p, "a.txt", "first version")
		save(t, p, "a.txt", "second")
		assert.Equal(t, "second", read(t, p, "a.txt"))

		info, err := p.GetFileInfo(context.Background(), "a.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(len("second")), info.Size)
	})
}

func TestConformance_Existence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		ok, err := p.Exists(ctx, "x/y.txt")
		require.NoError(t, err)
		assert.False(t, ok)

		save(t, p, "x/y.txt", "y")
		ok, err = p.Exists(ctx, "x/y.txt")
		require.NoError(t, err)
		assert.True(t, ok)

		deleted, err := p.DeleteFile(ctx, "x/y.txt")
		require.NoError(t, err)
		assert.True(t, deleted)

		ok, err = p.Exists(ctx, "x/y.txt")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestConformance_PathNormalization(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		save(t, p, `\dir\sub\file.txt`, "content")

		for _, alias := range []string{"dir/sub/file.txt", "/dir/sub/file.txt", "dir//sub/./file.txt", "dir/other/../sub/file.txt"} {
			ok, err := p.Exists(ctx, alias)
			require.NoError(t, err)
			assert.True(t, ok, alias)
		}

		files, err := p.GetFileList(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"dir/sub/file.txt"}, paths(files))
	})
}

func TestConformance_Rename(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		save(t, p, "a.txt", "alpha")
		save(t, p, "b/target.txt", "old")

		ok, err := p.RenameFile(ctx, "a.txt", "b/target.txt")
		require.NoError(t, err)
		require.True(t, ok)

		exists, err := p.Exists(ctx, "a.txt")
		require.NoError(t, err)
		assert.False(t, exists)
		assert.Equal(t, "alpha", read(t, p, "b/target.txt"))

		ok, err = p.RenameFile(ctx, "missing.txt", "c.txt")
		require.NoError(t, err)
		assert.False(t, ok)
		exists, err = p.Exists(ctx, "c.txt")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestConformance_CopyIndependence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		save(t, p, "a.txt", "original")

		ok, err := p.CopyFile(ctx, "a.txt", "copies/b.txt")
		require.NoError(t, err)
		require.True(t, ok)

		save(t, p, "a.txt", "changed")
		assert.Equal(t, "original", read(t, p, "copies/b.txt"))
		assert.Equal(t, "changed", read(t, p, "a.txt"))

		ok, err = p.CopyFile(ctx, "missing.txt", "c.txt")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = p.CopyFile(ctx, "a.txt", "/a.txt")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "changed", read(t, p, "a.txt"))
	})
}

func TestConformance_MissingPathIsSoft(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		ctx := context.Background()

		info, err := p.GetFileInfo(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, info)

		ok, err := p.DeleteFile(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = p.GetFileStream(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, IsNotFound(err))
	})
}

func TestConformance_InvalidArguments(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		for _, bad := range []string{"", "/", "../escape.txt", "a/../../b"} {
			_, err := p.GetFileInfo(ctx, bad)
			assert.ErrorIs(t, err, ErrInvalidArgument, "GetFileInfo(%q)", bad)
			_, err = p.GetFileStream(ctx, bad)
			assert.ErrorIs(t, err, ErrInvalidArgument, "GetFileStream(%q)", bad)
			_, err = p.SaveFile(ctx, bad, strings.NewReader("x"))
			assert.ErrorIs(t, err, ErrInvalidArgument, "SaveFile(%q)", bad)
			_, err = p.DeleteFile(ctx, bad)
			assert.ErrorIs(t, err, ErrInvalidArgument, "DeleteFile(%q)", bad)
			_, err = p.RenameFile(ctx, "a.txt", bad)
			assert.ErrorIs(t, err, ErrInvalidArgument, "RenameFile(a.txt, %q)", bad)
			_, err = p.CopyFile(ctx, bad, "a.txt")
			assert.ErrorIs(t, err, ErrInvalidArgument, "CopyFile(%q, a.txt)", bad)
		}

		save(t, p, "a/1.txt", "one")
		for _, bad := range []string{"", ".", "/", "./", "a/.."} {
			assert.ErrorIs(t, p.DeleteFiles(ctx, Match(bad)), ErrInvalidArgument, "DeleteFiles(%q)", bad)
			_, err := p.GetFileList(ctx, ListOptions{Pattern: Match(bad)})
			assert.ErrorIs(t, err, ErrInvalidArgument, "GetFileList(%q)", bad)
		}
		exists, err := p.Exists(ctx, "a/1.txt")
		require.NoError(t, err)
		assert.True(t, exists, "a rejected pattern must not delete anything")

		_, err = p.GetFileList(ctx, ListOptions{Limit: -1})
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = p.GetFileList(ctx, ListOptions{Skip: -1})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

var seedFiles = []string{
	"objs/1.json",
	"objs/2.json",
	"objs/sub/3.json",
	"other/1.json",
	"readme.txt",
	"zeta.txt",
}

func seed(t *testing.T, p Provider) {
	t.Helper()
	for _, path := range seedFiles {
		save(t, p, path, "content of "+path)
	}
}

func TestConformance_PatternListing(t *testing.T) {
	tests := []struct {
		pattern Pattern
		want    []string
	}{
		{AllFiles, seedFiles},
		{Match("**"), seedFiles},
		{Match("objs/*"), []string{"objs/1.json", "objs/2.json"}},
		{Match("objs/"), []string{"objs/1.json", "objs/2.json", "objs/sub/3.json"}},
		{Match("objs/**"), []string{"objs/1.json", "objs/2.json", "objs/sub/3.json"}},
		{Match("**/1.json"), []string{"objs/1.json", "other/1.json"}},
		{Match("*.txt"), []string{"readme.txt", "zeta.txt"}},
		{Match("objs/?.json"), []string{"objs/1.json", "objs/2.json"}},
		{Match("{objs,other}/1.json"), []string{"objs/1.json", "other/1.json"}},
		{Match("readme.txt"), []string{"readme.txt"}},
		{Match("OBJS/*"), []string{}},
		{Match("nothing/*"), []string{}},
	}
	forEachBackend(t, func(t *testing.T, p Provider) {
		seed(t, p)
		for _, tt := range tests {
			files, err := p.GetFileList(context.Background(), ListOptions{Pattern: tt.pattern})
			require.NoError(t, err, tt.pattern.String())
			assert.Equal(t, tt.want, paths(files), tt.pattern.String())
		}
	})
}

func TestConformance_PatternDeletionConsistency(t *testing.T) {
	patterns := []Pattern{Match("objs/*"), Match("objs/"), Match("**/1.json"), Match("*.txt"), Match("none/*"), AllFiles}
	for _, b := range backends() {
		for _, pattern := range patterns {
			t.Run(b.name+"/"+pattern.String(), func(t *testing.T) {
				p := b.open(t)
				ctx := context.Background()
				seed(t, p)

				before, err := p.GetFileList(ctx, ListOptions{Pattern: pattern})
				require.NoError(t, err)
				require.NoError(t, p.DeleteFiles(ctx, pattern))

				after, err := p.GetFileList(ctx, ListOptions{})
				require.NoError(t, err)

				var want []string
				for _, path := range seedFiles {
					if !slices.Contains(paths(before), path) {
						want = append(want, path)
					}
				}
				assert.ElementsMatch(t, want, paths(after))

				left, err := p.GetFileList(ctx, ListOptions{Pattern: pattern})
				require.NoError(t, err)
				assert.Empty(t, left)
			})
		}
	}
}

func TestConformance_PaginationCompleteness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		ctx := context.Background()
		for i := range 7 {
			save(t, p, fmt.Sprintf("pages/%02d.txt", i), "x")
		}
		save(t, p, "elsewhere.txt", "x")

		all, err := p.GetFileList(ctx, ListOptions{Pattern: Match("pages/*")})
		require.NoError(t, err)
		require.Len(t, all, 7)

		var joined []string
		for skip := 0; ; skip += 3 {
			page, err := p.GetFileList(ctx, ListOptions{Pattern: Match("pages/*"), Limit: 3, Skip: skip})
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			assert.LessOrEqual(t, len(page), 3)
			joined = append(joined, paths(page)...)
		}
		assert.Equal(t, paths(all), joined)

		past, err := p.GetFileList(ctx, ListOptions{Skip: 100})
		require.NoError(t, err)
		assert.NotNil(t, past)
		assert.Empty(t, past)
	})
}

func TestConformance_CanceledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ok, err := p.SaveFile(ctx, "canceled.txt", strings.NewReader("data"))
		assert.Error(t, err)
		assert.False(t, ok)

		exists, err := p.Exists(context.Background(), "canceled.txt")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestConformance_ConcurrentSaves(t *testing.T) {
	forEachBackend(t, func(t *testing.T, p Provider) {
		g, ctx := errgroup.WithContext(context.Background())
		for i := range 16 {
			g.Go(func() error {
				_, err := p.SaveFile(ctx, fmt.Sprintf("concurrent/%02d.txt", i), strings.NewReader("data"))
				return err
			})
		}
		require.NoError(t, g.Wait())

		files, err := p.GetFileList(context.Background(), ListOptions{Pattern: Match("concurrent/")})
		require.NoError(t, err)
		assert.Len(t, files, 16)
	})
}
