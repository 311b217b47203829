package provider

import (
	"bytes"
	"context"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"
)

var _ Provider = (*MemoryProvider)(nil)

type memoryFile struct {
	// data is never modified after the entry is stored; saves replace it.
	data     []byte
	created  time.Time
	modified time.Time
}

// MemoryProvider keeps every entry in process memory. It is meant for tests
// and caches; nothing survives the process.
type MemoryProvider struct {
	mu    sync.RWMutex
	files map[string]*memoryFile
	opts  options
}

// NewMemoryProvider creates an empty in-memory backend.
func NewMemoryProvider(opts ...Option) *MemoryProvider {
	return &MemoryProvider{
		files: make(map[string]*memoryFile),
		opts:  buildOptions(opts),
	}
}

func (p *MemoryProvider) spec(key string, f *memoryFile) FileSpec {
	return FileSpec{Path: key, Created: f.created, Modified: f.modified, Size: int64(len(f.data))}
}

func (p *MemoryProvider) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	f, ok := p.files[key]
	p.mu.RUnlock()
	if !ok {
		return nil, notFound(key)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (p *MemoryProvider) GetFileInfo(ctx context.Context, path string) (*FileSpec, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.files[key]
	if !ok {
		return nil, nil
	}
	spec := p.spec(key, f)
	return &spec, nil
}

func (p *MemoryProvider) Exists(ctx context.Context, path string) (bool, error) {
	spec, err := p.GetFileInfo(ctx, path)
	return spec != nil, err
}

func (p *MemoryProvider) SaveFile(ctx context.Context, path string, r io.Reader) (bool, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	data, err := readAll(ctx, r)
	if err != nil {
		return false, err
	}

	now := p.opts.stamp()
	p.mu.Lock()
	defer p.mu.Unlock()
	created := now
	if prev, ok := p.files[key]; ok {
		created = prev.created
	}
	p.files[key] = &memoryFile{data: data, created: created, modified: now}
	p.opts.log.Debug("Saved file in memory", slog.String("path", key), slog.Int("size", len(data)))
	return true, nil
}

func (p *MemoryProvider) RenameFile(ctx context.Context, path, newPath string) (bool, error) {
	keys, err := checkPaths(path, newPath)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[keys[0]]
	if !ok {
		return false, nil
	}
	delete(p.files, keys[0])
	p.files[keys[1]] = f
	return true, nil
}

func (p *MemoryProvider) CopyFile(ctx context.Context, path, targetPath string) (bool, error) {
	keys, err := checkPaths(path, targetPath)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := p.opts.stamp()
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[keys[0]]
	if !ok {
		return false, nil
	}
	p.files[keys[1]] = &memoryFile{data: f.data, created: now, modified: now}
	return true, nil
}

func (p *MemoryProvider) DeleteFile(ctx context.Context, path string) (bool, error) {
	key, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.files[key]; !ok {
		return false, nil
	}
	delete(p.files, key)
	return true, nil
}

func (p *MemoryProvider) DeleteFiles(ctx context.Context, pattern Pattern) error {
	m, err := pattern.Compile()
	if err != nil {
		return err
	}
	matched, err := collectAll(matching(p.entries(ctx), m))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, spec := range matched {
		delete(p.files, spec.Path)
	}
	p.opts.log.Debug("Deleted files from memory", slog.String("pattern", pattern.String()), slog.Int("count", len(matched)))
	return nil
}

func (p *MemoryProvider) GetFileList(ctx context.Context, opts ListOptions) ([]FileSpec, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m, err := opts.Pattern.Compile()
	if err != nil {
		return nil, err
	}
	return Paginate(matching(p.entries(ctx), m), opts.Skip, opts.Limit)
}

// entries snapshots the map so the lock is not held while callers iterate.
func (p *MemoryProvider) entries(ctx context.Context) iter.Seq2[FileSpec, error] {
	if err := ctx.Err(); err != nil {
		return func(yield func(FileSpec, error) bool) { yield(FileSpec{}, err) }
	}
	p.mu.RLock()
	specs := make([]FileSpec, 0, len(p.files))
	for key, f := range p.files {
		specs = append(specs, p.spec(key, f))
	}
	p.mu.RUnlock()
	return fromSorted(specs)
}

// Close drops every entry.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = make(map[string]*memoryFile)
	return nil
}
