package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var _ Provider = (*RetryProvider)(nil)

// RetryPolicy bounds how often a transient backend failure is retried.
type RetryPolicy struct {
	MaxRetries      uint64        `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// DefaultRetryPolicy retries three times starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// RetryProvider decorates a Provider with exponential backoff.
// Invalid arguments, missing files and context errors are never retried.
// SaveFile is only retried when its reader can be rewound. A rename retried
// after a failure that already moved the file reports true when the
// destination exists; if the destination existed beforehand that answer
// cannot tell the two cases apart.
type RetryProvider struct {
	next   Provider
	policy RetryPolicy
	log    *slog.Logger
}

// WithRetry wraps p with policy.
func WithRetry(p Provider, policy RetryPolicy, log *slog.Logger) *RetryProvider {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &RetryProvider{next: p, policy: policy, log: log}
}

// Unwrap returns the decorated provider.
func (r *RetryProvider) Unwrap() Provider {
	return r.next
}

func (r *RetryProvider) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, r.policy.MaxRetries), ctx)
}

func permanent(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func retry[T any](ctx context.Context, r *RetryProvider, op string, fn func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		result, err := fn()
		if err != nil && permanent(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, r.backoff(ctx), func(err error, wait time.Duration) {
		r.log.Warn("Retrying storage operation", slog.String("operation", op),
			slog.Duration("wait", wait), "err", err)
	})
}

func (r *RetryProvider) GetFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	return retry(ctx, r, "get_file_stream", func() (io.ReadCloser, error) {
		return r.next.GetFileStream(ctx, path)
	})
}

func (r *RetryProvider) GetFileInfo(ctx context.Context, path string) (*FileSpec, error) {
	return retry(ctx, r, "get_file_info", func() (*FileSpec, error) {
		return r.next.GetFileInfo(ctx, path)
	})
}

func (r *RetryProvider) Exists(ctx context.Context, path string) (bool, error) {
	return retry(ctx, r, "exists", func() (bool, error) {
		return r.next.Exists(ctx, path)
	})
}

func (r *RetryProvider) SaveFile(ctx context.Context, path string, body io.Reader) (bool, error) {
	seeker, ok := body.(io.Seeker)
	if !ok {
		return r.next.SaveFile(ctx, path, body)
	}
	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return r.next.SaveFile(ctx, path, body)
	}

	attempt := 0
	return retry(ctx, r, "save_file", func() (bool, error) {
		if attempt > 0 {
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				return false, backoff.Permanent(err)
			}
		}
		attempt++
		return r.next.SaveFile(ctx, path, body)
	})
}

func (r *RetryProvider) RenameFile(ctx context.Context, path, newPath string) (bool, error) {
	failed := false
	return retry(ctx, r, "rename_file", func() (bool, error) {
		ok, err := r.next.RenameFile(ctx, path, newPath)
		if err != nil {
			failed = true
			return false, err
		}
		if ok || !failed {
			return ok, nil
		}
		// the failed attempt may have moved the file before reporting
		return r.next.Exists(ctx, newPath)
	})
}

func (r *RetryProvider) CopyFile(ctx context.Context, path, targetPath string) (bool, error) {
	return retry(ctx, r, "copy_file", func() (bool, error) {
		return r.next.CopyFile(ctx, path, targetPath)
	})
}

func (r *RetryProvider) DeleteFile(ctx context.Context, path string) (bool, error) {
	return retry(ctx, r, "delete_file", func() (bool, error) {
		return r.next.DeleteFile(ctx, path)
	})
}

func (r *RetryProvider) DeleteFiles(ctx context.Context, pattern Pattern) error {
	_, err := retry(ctx, r, "delete_files", func() (struct{}, error) {
		return struct{}{}, r.next.DeleteFiles(ctx, pattern)
	})
	return err
}

func (r *RetryProvider) GetFileList(ctx context.Context, opts ListOptions) ([]FileSpec, error) {
	return retry(ctx, r, "get_file_list", func() ([]FileSpec, error) {
		return r.next.GetFileList(ctx, opts)
	})
}

func (r *RetryProvider) Close() error {
	return r.next.Close()
}
