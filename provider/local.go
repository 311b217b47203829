package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// tempPrefix marks in-flight writes. Listings never report these files.
const tempPrefix = ".filestore-tmp-"

var _ Provider = (*LocalProvider)(nil)

// LocalProvider implements the Provider interface for posix-compliant local filesystems.
// Keys map to files below root; folders are created on demand and removed
// again once a delete or rename leaves them empty.
type LocalProvider struct {
	root string
	opts options
}

// NewLocalProvider creates a new LocalProvider rooted at root, creating the
// directory if needed.
func NewLocalProvider(root string, opts ...Option) (*LocalProvider, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: local root is empty", ErrInvalidArgument)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", abs, err)
	}
	return &LocalProvider{root: abs, opts: buildOptions(opts)}, nil
}

// Root returns the absolute root directory.
func (p *LocalProvider) Root() string {
	return p.root
}

// resolve maps a normalized key below root. NormalizePath already rejected
// keys that climb out of the root.
func (p *LocalProvider) resolve(key string) string {
	return filepath.Join(p.root, filepath.FromSlash(key))
}

// localKey normalizes path and rejects names reserved for in-flight writes;
// such files would be invisible to listings and bulk deletes.
func localKey(path string) (string, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(filepath.Base(filepath.FromSlash(key)), tempPrefix) {
		return "", fmt.Errorf("%w: %q uses the reserved prefix %s", ErrInvalidArgument, path, tempPrefix)
	}
	return key, nil
}

func localKeys(paths ...string) ([]string, error) {
	keys := make([]string, len(paths))
	for i, p := range paths {
		key, err := localKey(p)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

// statFile returns nil, nil for missing paths and for folders.
func (p *LocalProvider) statFile(key string) (os.FileInfo, error) {
	info, err := os.Stat(p.resolve(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return info, nil
}

func (p *LocalProvider) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := localKey(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(p.resolve(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %q: %w", key, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, notFound(key)
	}
	return f, nil
}

func (p *LocalProvider) GetFileInfo(ctx context.Context, path string) (*FileSpec, error) {
	key, err := localKey(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := p.statFile(key)
	if err != nil || info == nil {
		return nil, err
	}
	spec := fileSpec(key, p.resolve(key), info)
	return &spec, nil
}

func (p *LocalProvider) Exists(ctx context.Context, path string) (bool, error) {
	spec, err := p.GetFileInfo(ctx, path)
	return spec != nil, err
}

func (p *LocalProvider) SaveFile(ctx context.Context, path string, r io.Reader) (bool, error) {
	key, err := localKey(path)
	if err != nil {
		return false, err
	}
	if err := p.write(ctx, key, r); err != nil {
		return false, err
	}
	p.opts.log.Debug("Saved file to disk", slog.String("path", key))
	return true, nil
}

// write streams r into a temp file next to the destination and renames it
// into place, so readers never observe a partial file.
func (p *LocalProvider) write(ctx context.Context, key string, r io.Reader) error {
	dest := p.resolve(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", key, err)
	}
	tmp := f.Name()

	_, werr := io.Copy(f, &contextReader{ctx: ctx, r: r})
	cerr := f.Close()
	if werr != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("stream write %q: %w", key, werr)
	}
	if cerr != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("flush %q: %w", key, cerr)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename into %q: %w", key, err)
	}
	return nil
}

func (p *LocalProvider) RenameFile(ctx context.Context, path, newPath string) (bool, error) {
	keys, err := localKeys(path, newPath)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := p.statFile(keys[0])
	if err != nil || info == nil {
		return false, err
	}
	if keys[0] == keys[1] {
		return true, nil
	}
	dest := p.resolve(keys[1])
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
	}
	if err := os.Rename(p.resolve(keys[0]), dest); err != nil {
		return false, fmt.Errorf("rename %q to %q: %w", keys[0], keys[1], err)
	}
	p.prune(keys[0])
	return true, nil
}

func (p *LocalProvider) CopyFile(ctx context.Context, path, targetPath string) (bool, error) {
	keys, err := localKeys(path, targetPath)
	if err != nil {
		return false, err
	}

	src, err := p.GetFileStream(ctx, keys[0])
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer src.Close()

	if err := p.write(ctx, keys[1], src); err != nil {
		return false, err
	}
	return true, nil
}

func (p *LocalProvider) DeleteFile(ctx context.Context, path string) (bool, error) {
	key, err := localKey(path)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.remove(key)
}

func (p *LocalProvider) remove(key string) (bool, error) {
	info, err := p.statFile(key)
	if err != nil || info == nil {
		return false, err
	}
	if err := os.Remove(p.resolve(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	p.prune(key)
	return true, nil
}

// prune removes the now-empty folders above key, stopping at root.
func (p *LocalProvider) prune(key string) {
	for dir := path.Dir(key); dir != "." && dir != "/"; dir = path.Dir(dir) {
		err := os.Remove(p.resolve(dir))
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) && !isNotEmpty(err) {
			p.opts.log.Warn("Failed to prune folder", slog.String("folder", dir), "err", err)
		}
		return
	}
}

func isNotEmpty(err error) bool {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return errors.Is(pe.Err, errNotEmpty)
	}
	return false
}

func (p *LocalProvider) DeleteFiles(ctx context.Context, pattern Pattern) error {
	m, err := pattern.Compile()
	if err != nil {
		return err
	}
	matched, err := collectAll(matching(p.entries(ctx, m.Prefix()), m))
	if err != nil {
		return err
	}

	for _, spec := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.remove(spec.Path); err != nil {
			return err
		}
	}
	p.opts.log.Debug("Deleted files from disk", slog.String("pattern", pattern.String()), slog.Int("count", len(matched)))
	return nil
}

func (p *LocalProvider) GetFileList(ctx context.Context, opts ListOptions) ([]FileSpec, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m, err := opts.Pattern.Compile()
	if err != nil {
		return nil, err
	}
	return Paginate(matching(p.entries(ctx, m.Prefix()), m), opts.Skip, opts.Limit)
}

// entries walks the deepest folder implied by prefix in lexical order.
func (p *LocalProvider) entries(ctx context.Context, prefix string) iter.Seq2[FileSpec, error] {
	start := p.root
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		start = p.resolve(prefix[:i])
	}

	return func(yield func(FileSpec, error) bool) {
		err := filepath.WalkDir(start, func(full string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tempPrefix) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil // removed between ReadDir and Info
			}
			rel, err := filepath.Rel(p.root, full)
			if err != nil {
				return err
			}
			if !yield(fileSpec(filepath.ToSlash(rel), full, info), nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			yield(FileSpec{}, fmt.Errorf("walk %q: %w", start, err))
		}
	}
}

// Close is a no-op; LocalProvider holds no open handles between calls.
func (p *LocalProvider) Close() error {
	return nil
}
