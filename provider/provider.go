// Package provider defines the file storage contract shared by every backend
// (local disk, object stores, bbolt, memory) together with the path and pattern
// rules and the listing pager the backends build on.
package provider

import (
	"context"
	"fmt"
	"io"
	"time"
)

// FileSpec is a point-in-time snapshot of a stored entry.
// It is a value: backends never hand out a FileSpec that aliases their own state.
type FileSpec struct {
	Path     string    `json:"path"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Size is in bytes.
	Size int64 `json:"size"`
}

func (f FileSpec) String() string {
	return fmt.Sprintf("Path = %s, Created = %s, Modified = %s, Size = %d bytes",
		f.Path, f.Created.Format(time.RFC3339), f.Modified.Format(time.RFC3339), f.Size)
}

// ListOptions selects a window of entries for GetFileList.
// The zero value lists every entry.
type ListOptions struct {
	Pattern Pattern

	// Limit caps the number of returned entries. Zero means no limit.
	Limit int

	// Skip drops this many matched entries from the head of the listing.
	Skip int
}

func (o ListOptions) validate() error {
	if err := o.Pattern.validate(); err != nil {
		return err
	}
	if o.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidArgument, o.Limit)
	}
	if o.Skip < 0 {
		return fmt.Errorf("%w: negative skip %d", ErrInvalidArgument, o.Skip)
	}
	return nil
}

// Provider represents a storage backend abstraction.
//
// Empty or root-escaping paths and explicitly empty patterns fail with
// ErrInvalidArgument before any I/O. A missing path is a soft result
// (nil, false) everywhere except GetFileStream, which returns ErrNotFound.
// Implementations must be safe for concurrent use; calls are not serialized
// against each other, not even for the same path.
type Provider interface {
	// GetFileStream opens path for reading at offset 0.
	// The caller owns the stream and must close it.
	GetFileStream(ctx context.Context, path string) (io.ReadCloser, error)

	// GetFileInfo returns nil, nil when path does not exist.
	GetFileInfo(ctx context.Context, path string) (*FileSpec, error)

	Exists(ctx context.Context, path string) (bool, error)

	// SaveFile writes all of r to path, creating or overwriting it.
	// r is consumed but not closed.
	SaveFile(ctx context.Context, path string, r io.Reader) (bool, error)

	// RenameFile moves path to newPath, overwriting newPath if it exists.
	// It returns false when path does not exist.
	RenameFile(ctx context.Context, path, newPath string) (bool, error)

	// CopyFile duplicates path at targetPath. Both entries are independent
	// afterwards. It returns false when path does not exist.
	CopyFile(ctx context.Context, path, targetPath string) (bool, error)

	// DeleteFile returns false when path did not exist.
	DeleteFile(ctx context.Context, path string) (bool, error)

	// DeleteFiles removes every entry GetFileList would return for pattern.
	// It is not atomic: on error some entries may already be gone.
	DeleteFiles(ctx context.Context, pattern Pattern) error

	// GetFileList returns matching entries in a stable order.
	GetFileList(ctx context.Context, opts ListOptions) ([]FileSpec, error)

	// Close releases backend resources.
	Close() error
}
