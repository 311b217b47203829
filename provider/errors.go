package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for empty or malformed paths and patterns.
	// It is always raised before the backend is touched.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned by GetFileStream when the path does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrClosed is returned by backends used after Close.
	ErrClosed = errors.New("provider closed")
)

// IsNotFound reports whether err signals a missing path.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(path string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, path)
}
