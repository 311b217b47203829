package engine

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/filestore/provider"
	"github.com/franksops/filestore/store"
)

type MockStore struct {
	Jobs map[string]*store.JobRecord
}

func (m *MockStore) SaveJob(job *store.JobRecord) error {
	m.Jobs[job.ID] = job
	return nil
}

func (m *MockStore) GetJob(id string) (*store.JobRecord, error) {
	job, ok := m.Jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}

func (m *MockStore) ListJobs(state store.JobState) ([]*store.JobRecord, error) {
	var jobs []*store.JobRecord
	for _, job := range m.Jobs {
		if state == "" || job.State == state {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (m *MockStore) Close() error { return nil }

func newMockStore() *MockStore {
	return &MockStore{Jobs: make(map[string]*store.JobRecord)}
}

func TestJobTracker_Lifecycle(t *testing.T) {
	ms := newMockStore()
	tracker := NewJobTracker(ms, DefaultCheckpointConfig)

	job := TransferJob{
		ID:              "lifecycle",
		SourcePath:      "in/report.csv",
		DestinationPath: "out/report.csv",
		Spec:            provider.FileSpec{Path: "in/report.csv", Size: 42},
	}
	require.NoError(t, tracker.InitJob(job))

	steps := []struct {
		name  string
		apply func() error
		want  store.JobState
	}{
		{"init", func() error { return nil }, store.StatePending},
		{"in progress", func() error { return tracker.MarkInProgress(job.ID) }, store.StateInProgress},
		{"completed", func() error { return tracker.MarkCompleted(job.ID, 42, 0xabc) }, store.StateCompleted},
	}
	for _, step := range steps {
		require.NoError(t, step.apply(), step.name)
		rec, err := ms.GetJob(job.ID)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, rec.State, step.name)
	}

	rec, _ := ms.GetJob(job.ID)
	assert.Equal(t, int64(42), rec.TotalBytes)
	assert.Equal(t, int64(42), rec.BytesTransferred)
	assert.Equal(t, uint64(0xabc), rec.Checksum)

	assert.ErrorIs(t, tracker.MarkInProgress("unknown"), store.ErrJobNotFound)
}

func TestJobTracker_Completed(t *testing.T) {
	mockStore := newMockStore()
	tracker := NewJobTracker(mockStore, DefaultCheckpointConfig)

	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	job := NewTransferJob(provider.FileSpec{Path: "a.txt", Size: 3, Modified: modified}, "b/a.txt")

	done, err := tracker.Completed(job)
	require.NoError(t, err)
	require.False(t, done, "unknown job is incomplete")

	require.NoError(t, tracker.InitJob(job))
	done, _ = tracker.Completed(job)
	assert.False(t, done, "pending job is incomplete")

	require.NoError(t, tracker.MarkCompleted(job.ID, 3, 1))
	done, _ = tracker.Completed(job)
	assert.True(t, done)

	changed := job
	changed.Spec.Modified = modified.Add(time.Second)
	done, _ = tracker.Completed(changed)
	assert.False(t, done, "a modified source needs a new transfer")

	grown := job
	grown.Spec.Size = 4
	done, _ = tracker.Completed(grown)
	assert.False(t, done, "a resized source needs a new transfer")
}

func TestJobTracker_Failed(t *testing.T) {
	mockStore := newMockStore()
	tracker := NewJobTracker(mockStore, DefaultCheckpointConfig)

	require.NoError(t, tracker.InitJob(TransferJob{ID: "ok"}))
	require.NoError(t, tracker.InitJob(TransferJob{ID: "bad"}))
	require.NoError(t, tracker.MarkFailed("bad", errors.New("boom")))

	failed, err := tracker.Failed()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].ID)
	assert.Equal(t, "boom", failed[0].Error)
}

func TestTrackedReader_Checkpointing(t *testing.T) {
	ms := newMockStore()
	tracker := NewJobTracker(ms, CheckpointConfig{BytesInterval: 10, TimeInterval: time.Hour})

	require.NoError(t, tracker.InitJob(TransferJob{ID: "ckpt"}))
	tr := tracker.NewTrackedReader(bytes.NewReader([]byte("12345678901")), "ckpt")

	buf := make([]byte, 5)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	rec, _ := ms.GetJob("ckpt")
	assert.Zero(t, rec.BytesTransferred, "no checkpoint below the byte interval")

	rest, err := io.ReadAll(tr)
	require.NoError(t, err)
	require.Len(t, rest, 6)
	rec, _ = ms.GetJob("ckpt")
	assert.Equal(t, int64(11), rec.BytesTransferred)
	assert.Equal(t, int64(11), tr.BytesRead())
}

func TestTrackedReader_MissingRecord(t *testing.T) {
	tracker := NewJobTracker(newMockStore(), CheckpointConfig{BytesInterval: 1, TimeInterval: time.Hour})
	tr := tracker.NewTrackedReader(bytes.NewReader([]byte("abc")), "gone")

	got, err := io.ReadAll(tr)
	require.NoError(t, err, "checkpoint failures stay out of the read")
	assert.Equal(t, "abc", string(got))
}
