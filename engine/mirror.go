package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franksops/filestore/provider"
)

// DefaultWorkers is the number of concurrent transfers when none is set.
const DefaultWorkers = 8

// ErrChecksumMismatch is returned when a verified copy differs from its source.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// MirrorOptions selects what a Mirror copies and how.
type MirrorOptions struct {
	Pattern    provider.Pattern
	DestPrefix string
	Workers    int
	PageSize   int

	// Verify re-reads every destination entry and compares CRC64 checksums.
	Verify bool
}

// Summary is the outcome of a mirror run.
type Summary struct {
	Queued  int
	Copied  int64
	Skipped int64
	Failed  int64
	Bytes   int64
	Elapsed time.Duration
}

// Progress is a point-in-time view of a running mirror.
type Progress struct {
	TotalFiles     int64
	TotalBytes     int64
	CompletedFiles int64
	CompletedBytes int64
	SkippedFiles   int64
	FailedFiles    int64
	Workers        int
	Elapsed        time.Duration
	Active         []ActiveTransfer
}

// ActiveTransfer describes one in-flight copy.
type ActiveTransfer struct {
	JobID   string
	Path    string
	Bytes   int64
	Total   int64
	Started time.Time
}

type activeTransfer struct {
	job     TransferJob
	bytes   atomic.Int64
	started time.Time
}

// Mirror copies entries from one provider to another using only the storage
// contract: a Walker pages the source listing and a WorkerPool streams each
// entry to the destination.
type Mirror struct {
	src     provider.Provider
	dst     provider.Provider
	tracker *JobTracker
	log     *slog.Logger
	buffers *BufferPool

	mu      sync.Mutex
	pool    *WorkerPool
	active  map[string]*activeTransfer
	started time.Time

	totalFiles     atomic.Int64
	totalBytes     atomic.Int64
	completedFiles atomic.Int64
	completedBytes atomic.Int64
	skipped        atomic.Int64
	failed         atomic.Int64
}

// NewMirror creates a Mirror from src to dst. A nil tracker disables resume.
func NewMirror(src, dst provider.Provider, tracker *JobTracker, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Mirror{
		src:     src,
		dst:     dst,
		tracker: tracker,
		log:     log,
		buffers: NewBufferPool(),
		active:  make(map[string]*activeTransfer),
	}
}

// Run copies every source entry matching opts.Pattern and blocks until all
// queued transfers have finished. It returns an error when listing failed,
// ctx was canceled, or any transfer failed.
func (m *Mirror) Run(ctx context.Context, opts MirrorOptions) (Summary, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	start := time.Now()
	jobChan := make(JobChannel, workers*2)
	pool := NewWorkerPool(ctx, jobChan, func(ctx context.Context, job TransferJob) error {
		return m.transfer(ctx, job, opts.Verify)
	}, m.log)

	m.mu.Lock()
	m.pool = pool
	m.started = start
	m.mu.Unlock()

	pool.SetWorkerCount(workers)

	walker := NewWalker(m.src, jobChan)
	walker.PageSize = opts.PageSize
	walker.OnJob = func(job TransferJob) {
		m.totalFiles.Add(1)
		m.totalBytes.Add(job.Spec.Size)
	}

	m.log.Info("Mirror started",
		slog.String("pattern", opts.Pattern.String()),
		slog.String("dest_prefix", opts.DestPrefix),
		slog.Int("workers", workers))

	queued, walkErr := walker.Walk(ctx, opts.Pattern, opts.DestPrefix)
	close(jobChan)
	pool.Wait()

	summary := Summary{
		Queued:  queued,
		Copied:  m.completedFiles.Load() - m.skipped.Load(),
		Skipped: m.skipped.Load(),
		Failed:  m.failed.Load(),
		Bytes:   m.completedBytes.Load(),
		Elapsed: time.Since(start),
	}

	m.log.Info("Mirror finished",
		slog.Int("queued", summary.Queued),
		slog.Int64("copied", summary.Copied),
		slog.Int64("skipped", summary.Skipped),
		slog.Int64("failed", summary.Failed),
		slog.Duration("elapsed", summary.Elapsed))

	switch {
	case walkErr != nil:
		return summary, walkErr
	case ctx.Err() != nil:
		return summary, ctx.Err()
	case summary.Failed > 0:
		return summary, fmt.Errorf("%d of %d transfers failed", summary.Failed, queued)
	}
	return summary, nil
}

// SetWorkers resizes the running worker pool. It never goes below one worker.
func (m *Mirror) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	pool := m.pool
	m.mu.Unlock()
	if pool != nil {
		pool.SetWorkerCount(n)
	}
}

// Snapshot returns the current progress. Active transfers are ordered by
// start time.
func (m *Mirror) Snapshot() Progress {
	m.mu.Lock()
	p := Progress{
		TotalFiles:     m.totalFiles.Load(),
		TotalBytes:     m.totalBytes.Load(),
		CompletedFiles: m.completedFiles.Load(),
		CompletedBytes: m.completedBytes.Load(),
		SkippedFiles:   m.skipped.Load(),
		FailedFiles:    m.failed.Load(),
	}
	if m.pool != nil {
		p.Workers = m.pool.WorkerCount()
	}
	if !m.started.IsZero() {
		p.Elapsed = time.Since(m.started)
	}
	for _, t := range m.active {
		p.Active = append(p.Active, ActiveTransfer{
			JobID:   t.job.ID,
			Path:    t.job.SourcePath,
			Bytes:   t.bytes.Load(),
			Total:   t.job.Spec.Size,
			Started: t.started,
		})
	}
	m.mu.Unlock()

	sort.Slice(p.Active, func(i, j int) bool {
		return p.Active[i].Started.Before(p.Active[j].Started)
	})
	return p
}

func (m *Mirror) transfer(ctx context.Context, job TransferJob, verify bool) error {
	if m.tracker != nil {
		done, err := m.tracker.Completed(job)
		if err != nil {
			m.failed.Add(1)
			return fmt.Errorf("failed to read transfer record: %w", err)
		}
		if done {
			m.skipped.Add(1)
			m.completedFiles.Add(1)
			m.completedBytes.Add(job.Spec.Size)
			m.log.Debug("Skipping completed transfer", slog.String("source", job.SourcePath))
			return nil
		}
		if err := m.tracker.InitJob(job); err != nil {
			m.failed.Add(1)
			return fmt.Errorf("failed to init job: %w", err)
		}
		if err := m.tracker.MarkInProgress(job.ID); err != nil {
			m.failed.Add(1)
			return fmt.Errorf("failed to mark job in progress: %w", err)
		}
	}

	n, sum, err := m.copy(ctx, job, verify)
	if err != nil {
		m.failed.Add(1)
		if m.tracker != nil {
			if terr := m.tracker.MarkFailed(job.ID, err); terr != nil {
				m.log.Warn("Failed to record transfer failure", slog.String("job", job.ID), "err", terr)
			}
		}
		return err
	}

	if m.tracker != nil {
		if err := m.tracker.MarkCompleted(job.ID, n, sum); err != nil {
			m.failed.Add(1)
			return fmt.Errorf("failed to mark job completed: %w", err)
		}
	}

	m.completedFiles.Add(1)
	m.completedBytes.Add(n)
	m.log.Debug("Transferred",
		slog.String("source", job.SourcePath),
		slog.String("destination", job.DestinationPath),
		slog.Int64("bytes", n))
	return nil
}

func (m *Mirror) copy(ctx context.Context, job TransferJob, verify bool) (int64, uint64, error) {
	rc, err := m.src.GetFileStream(ctx, job.SourcePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open source %s: %w", job.SourcePath, err)
	}
	defer rc.Close()

	at := m.begin(job)
	defer m.end(job.ID)

	cr := NewChecksumReader(&progressReader{r: rc, t: at})
	var r io.Reader = cr
	if m.tracker != nil {
		r = m.tracker.NewTrackedReader(cr, job.ID)
	}

	if _, err := m.dst.SaveFile(ctx, job.DestinationPath, r); err != nil {
		return cr.BytesRead(), 0, fmt.Errorf("failed to write destination %s: %w", job.DestinationPath, err)
	}

	sum := cr.Checksum()
	if verify {
		if err := m.verify(ctx, job.DestinationPath, sum, cr.BytesRead()); err != nil {
			return cr.BytesRead(), sum, err
		}
	}
	return cr.BytesRead(), sum, nil
}

func (m *Mirror) verify(ctx context.Context, dstPath string, want uint64, size int64) error {
	rc, err := m.dst.GetFileStream(ctx, dstPath)
	if err != nil {
		return fmt.Errorf("failed to reopen destination %s: %w", dstPath, err)
	}
	defer rc.Close()

	buf := m.buffers.Get()
	defer m.buffers.Put(buf)

	got, n, err := StreamChecksum(ctx, rc, *buf)
	if err != nil {
		return fmt.Errorf("failed to read destination %s: %w", dstPath, err)
	}
	if got != want || n != size {
		return fmt.Errorf("%w: %s (%d bytes, crc %016x; want %d bytes, crc %016x)",
			ErrChecksumMismatch, dstPath, n, got, size, want)
	}
	return nil
}

func (m *Mirror) begin(job TransferJob) *activeTransfer {
	at := &activeTransfer{job: job, started: time.Now()}
	m.mu.Lock()
	m.active[job.ID] = at
	m.mu.Unlock()
	return at
}

func (m *Mirror) end(jobID string) {
	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()
}

type progressReader struct {
	r io.Reader
	t *activeTransfer
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.t.bytes.Add(int64(n))
	}
	return n, err
}
