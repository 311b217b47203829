package engine

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/franksops/filestore/store"
)

// CheckpointConfig controls how often a TrackedReader persists progress.
// Whichever threshold is reached first triggers a save.
type CheckpointConfig struct {
	BytesInterval int64
	TimeInterval  time.Duration
}

// DefaultCheckpointConfig saves every 10 MiB or 5 seconds.
var DefaultCheckpointConfig = CheckpointConfig{
	BytesInterval: 10 << 20,
	TimeInterval:  5 * time.Second,
}

// JobTracker records the lifecycle of mirror transfers in a store.
type JobTracker struct {
	store  store.Store
	config CheckpointConfig
}

func NewJobTracker(s store.Store, config CheckpointConfig) *JobTracker {
	return &JobTracker{store: s, config: config}
}

// Completed reports whether job was transferred by an earlier run and the
// source entry has not changed since.
func (jt *JobTracker) Completed(job TransferJob) (bool, error) {
	rec, err := jt.store.GetJob(job.ID)
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	if rec.State != store.StateCompleted {
		return false, nil
	}
	return rec.TotalBytes == job.Spec.Size && rec.SourceModified.Equal(job.Spec.Modified.UTC()), nil
}

// InitJob records job as pending, replacing any earlier record.
func (jt *JobTracker) InitJob(job TransferJob) error {
	return jt.store.SaveJob(&store.JobRecord{
		ID:              job.ID,
		SourcePath:      job.SourcePath,
		DestinationPath: job.DestinationPath,
		State:           store.StatePending,
		TotalBytes:      job.Spec.Size,
		SourceModified:  job.Spec.Modified.UTC(),
	})
}

func (jt *JobTracker) MarkInProgress(jobID string) error {
	return jt.update(jobID, func(rec *store.JobRecord) {
		rec.State = store.StateInProgress
	})
}

// MarkCompleted records the transferred size and the CRC64 of the content.
func (jt *JobTracker) MarkCompleted(jobID string, n int64, checksum uint64) error {
	return jt.update(jobID, func(rec *store.JobRecord) {
		rec.State = store.StateCompleted
		rec.BytesTransferred = n
		rec.TotalBytes = n
		rec.Checksum = checksum
		rec.Error = ""
	})
}

func (jt *JobTracker) MarkFailed(jobID string, cause error) error {
	return jt.update(jobID, func(rec *store.JobRecord) {
		rec.State = store.StateFailed
		if cause != nil {
			rec.Error = cause.Error()
		}
	})
}

// Failed returns the records of every failed transfer.
func (jt *JobTracker) Failed() ([]*store.JobRecord, error) {
	return jt.store.ListJobs(store.StateFailed)
}

func (jt *JobTracker) update(jobID string, fn func(*store.JobRecord)) error {
	rec, err := jt.store.GetJob(jobID)
	if err != nil {
		return err
	}
	fn(rec)
	return jt.store.SaveJob(rec)
}

// TrackedReader counts the bytes read through it and periodically saves
// the count on the job record. Checkpoint failures are ignored.
type TrackedReader struct {
	io.Reader
	tracker *JobTracker
	jobID   string

	mu        sync.Mutex
	read      int64
	savedAt   int64
	savedTime time.Time
}

func (jt *JobTracker) NewTrackedReader(r io.Reader, jobID string) *TrackedReader {
	return &TrackedReader{Reader: r, tracker: jt, jobID: jobID, savedTime: time.Now()}
}

func (tr *TrackedReader) Read(p []byte) (int, error) {
	n, err := tr.Reader.Read(p)
	if n == 0 {
		return n, err
	}

	tr.mu.Lock()
	tr.read += int64(n)
	total := tr.read
	due := total-tr.savedAt >= tr.tracker.config.BytesInterval ||
		time.Since(tr.savedTime) >= tr.tracker.config.TimeInterval
	tr.mu.Unlock()

	if due {
		tr.checkpoint(total)
	}
	return n, err
}

func (tr *TrackedReader) checkpoint(total int64) {
	err := tr.tracker.update(tr.jobID, func(rec *store.JobRecord) {
		rec.BytesTransferred = total
	})
	if err != nil {
		return
	}
	tr.mu.Lock()
	tr.savedAt = total
	tr.savedTime = time.Now()
	tr.mu.Unlock()
}

// BytesRead returns the number of bytes read so far.
func (tr *TrackedReader) BytesRead() int64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.read
}
