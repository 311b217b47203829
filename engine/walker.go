package engine

import (
	"context"
	"fmt"
	"path"

	"github.com/franksops/filestore/provider"
)

// DefaultPageSize is how many entries the walker requests per listing call.
const DefaultPageSize = 500

// Walker pages through a provider listing and pushes one TransferJob per
// entry to a channel. It keeps no cursor of its own; every page is a fresh
// GetFileList call with an increasing Skip.
type Walker struct {
	SourceProvider provider.Provider
	JobChan        JobChannel
	PageSize       int

	// OnJob, when set, is called for every job before it is queued.
	OnJob func(TransferJob)
}

// NewWalker creates a new paging walker.
func NewWalker(src provider.Provider, jobChan JobChannel) *Walker {
	return &Walker{
		SourceProvider: src,
		JobChan:        jobChan,
		PageSize:       DefaultPageSize,
	}
}

// Walk queues a job for every entry matching pattern. Destination paths are
// the source paths below destPrefix. It returns the number of queued jobs.
func (w *Walker) Walk(ctx context.Context, pattern provider.Pattern, destPrefix string) (int, error) {
	pageSize := w.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	queued := 0
	for {
		page, err := w.SourceProvider.GetFileList(ctx, provider.ListOptions{
			Pattern: pattern,
			Limit:   pageSize,
			Skip:    queued,
		})
		if err != nil {
			return queued, fmt.Errorf("failed to list source page at %d: %w", queued, err)
		}

		for _, spec := range page {
			job := NewTransferJob(spec, destinationPath(destPrefix, spec.Path))
			if w.OnJob != nil {
				w.OnJob(job)
			}

			select {
			case <-ctx.Done():
				return queued, ctx.Err()
			case w.JobChan <- job:
				queued++
			}
		}

		if len(page) < pageSize {
			return queued, nil
		}
	}
}

func destinationPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}
