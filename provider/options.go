package provider

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Option configures a backend.
type Option func(*options)

type options struct {
	log *slog.Logger
	now func() time.Time
}

// WithLogger sets the structured logger a backend reports through.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithClock overrides the time source used by backends that stamp their own
// entries (memory and bbolt).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log: slog.New(slog.DiscardHandler),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) stamp() time.Time {
	return o.now().UTC()
}

// contextReader stops a copy loop at the next Read once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	return io.ReadAll(&contextReader{ctx: ctx, r: r})
}

func checkPaths(paths ...string) ([]string, error) {
	keys := make([]string, len(paths))
	for i, p := range paths {
		key, err := NormalizePath(p)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}
