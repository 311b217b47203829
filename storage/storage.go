// Package storage is the caller-facing side of the file storage contract.
// A Storage wraps any provider.Provider, checks arguments before the backend
// is touched, and adds convenience reads and typed object helpers on top.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/franksops/filestore/engine"
	"github.com/franksops/filestore/provider"
	"github.com/franksops/filestore/serializer"
)

// Storage is a provider.Provider with an attached serializer.
type Storage struct {
	p          provider.Provider
	serializer serializer.Serializer
	log        *slog.Logger
	buffers    *engine.BufferPool
}

var _ provider.Provider = (*Storage)(nil)

// Option configures a Storage.
type Option func(*Storage)

// WithSerializer sets the serializer used by SaveObject and GetObject.
func WithSerializer(s serializer.Serializer) Option {
	return func(st *Storage) {
		if s != nil {
			st.serializer = s
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(st *Storage) {
		if log != nil {
			st.log = log
		}
	}
}

// New wraps p. The default serializer is JSON.
func New(p provider.Provider, opts ...Option) *Storage {
	s := &Storage{
		p:          p,
		serializer: serializer.JSON{},
		log:        slog.New(slog.DiscardHandler),
		buffers:    engine.NewBufferPool(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the wrapped backend.
func (s *Storage) Provider() provider.Provider { return s.p }

// Serializer returns the serializer used for objects.
func (s *Storage) Serializer() serializer.Serializer { return s.serializer }

func checkPath(paths ...string) error {
	for _, p := range paths {
		if _, err := provider.NormalizePath(p); err != nil {
			return err
		}
	}
	return nil
}

func checkPattern(pattern provider.Pattern) error {
	_, err := pattern.Compile()
	return err
}

func (s *Storage) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	s.log.Debug("Opening file stream", slog.String("path", path))
	return s.p.GetFileStream(ctx, path)
}

func (s *Storage) GetFileInfo(ctx context.Context, path string) (*provider.FileSpec, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	s.log.Debug("Getting file info", slog.String("path", path))
	return s.p.GetFileInfo(ctx, path)
}

func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	if err := checkPath(path); err != nil {
		return false, err
	}
	s.log.Debug("Checking file existence", slog.String("path", path))
	return s.p.Exists(ctx, path)
}

func (s *Storage) SaveFile(ctx context.Context, path string, r io.Reader) (bool, error) {
	if err := checkPath(path); err != nil {
		return false, err
	}
	if r == nil {
		return false, fmt.Errorf("%w: nil stream for %s", provider.ErrInvalidArgument, path)
	}
	s.log.Debug("Saving file", slog.String("path", path))
	return s.p.SaveFile(ctx, path, r)
}

func (s *Storage) RenameFile(ctx context.Context, path, newPath string) (bool, error) {
	if err := checkPath(path, newPath); err != nil {
		return false, err
	}
	s.log.Debug("Renaming file", slog.String("path", path), slog.String("new_path", newPath))
	return s.p.RenameFile(ctx, path, newPath)
}

func (s *Storage) CopyFile(ctx context.Context, path, targetPath string) (bool, error) {
	if err := checkPath(path, targetPath); err != nil {
		return false, err
	}
	s.log.Debug("Copying file", slog.String("path", path), slog.String("target_path", targetPath))
	return s.p.CopyFile(ctx, path, targetPath)
}

func (s *Storage) DeleteFile(ctx context.Context, path string) (bool, error) {
	if err := checkPath(path); err != nil {
		return false, err
	}
	s.log.Debug("Deleting file", slog.String("path", path))
	return s.p.DeleteFile(ctx, path)
}

func (s *Storage) DeleteFiles(ctx context.Context, pattern provider.Pattern) error {
	if err := checkPattern(pattern); err != nil {
		return err
	}
	s.log.Debug("Deleting files", slog.String("pattern", pattern.String()))
	return s.p.DeleteFiles(ctx, pattern)
}

func (s *Storage) GetFileList(ctx context.Context, opts provider.ListOptions) ([]provider.FileSpec, error) {
	if err := checkPattern(opts.Pattern); err != nil {
		return nil, err
	}
	if opts.Limit < 0 || opts.Skip < 0 {
		return nil, fmt.Errorf("%w: limit %d, skip %d", provider.ErrInvalidArgument, opts.Limit, opts.Skip)
	}
	s.log.Debug("Listing files",
		slog.String("pattern", opts.Pattern.String()),
		slog.Int("limit", opts.Limit),
		slog.Int("skip", opts.Skip))
	return s.p.GetFileList(ctx, opts)
}

func (s *Storage) Close() error {
	return s.p.Close()
}

// DeleteFileSpecs deletes every listed entry in order. Entries that are
// already gone are ignored. It stops at the first failure.
func (s *Storage) DeleteFileSpecs(ctx context.Context, specs []provider.FileSpec) error {
	for _, spec := range specs {
		if err := checkPath(spec.Path); err != nil {
			return err
		}
	}
	for _, spec := range specs {
		if _, err := s.p.DeleteFile(ctx, spec.Path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", spec.Path, err)
		}
	}
	return nil
}

// open returns the stream for path, or nil when path does not exist.
func (s *Storage) open(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := s.GetFileStream(ctx, path)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}
