// Package store persists mirror transfer records in a bbolt database so an
// interrupted mirror can resume where it stopped.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// ErrJobNotFound is returned by GetJob for an unknown ID.
var ErrJobNotFound = errors.New("job not found")

var jobsBucket = []byte("jobs")

// JobState is the lifecycle stage of one transfer.
type JobState string

const (
	StatePending    JobState = "Pending"
	StateInProgress JobState = "InProgress"
	StateCompleted  JobState = "Completed"
	StateFailed     JobState = "Failed"
)

// JobRecord is the persisted view of one transfer.
type JobRecord struct {
	ID               string   `json:"id"`
	SourcePath       string   `json:"source_path"`
	DestinationPath  string   `json:"destination_path"`
	State            JobState `json:"state"`
	BytesTransferred int64    `json:"bytes_transferred"`
	TotalBytes       int64    `json:"total_bytes"`

	// SourceModified and TotalBytes identify the source version that was
	// copied; a changed source is transferred again.
	SourceModified time.Time `json:"source_modified"`
	Checksum       uint64    `json:"checksum,omitempty"`

	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps transfer records.
type Store interface {
	SaveJob(job *JobRecord) error
	GetJob(id string) (*JobRecord, error)
	ListJobs(state JobState) ([]*JobRecord, error)
	Close() error
}

// BoltStore is a Store in a single bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the database at path. It gives up after a
// second when another process holds the file lock.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state database %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveJob writes job, replacing any record with the same ID, and stamps
// UpdatedAt.
func (s *BoltStore) SaveJob(job *JobRecord) error {
	job.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).Put([]byte(job.ID), data)
	})
}

// GetJob returns the record for id or ErrJobNotFound.
func (s *BoltStore) GetJob(id string) (*JobRecord, error) {
	var job *JobRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(jobsBucket).Get([]byte(id))
		if data == nil {
			return ErrJobNotFound
		}
		var err error
		job, err = decode(id, data)
		return err
	})
	return job, err
}

// ListJobs returns the records in state ordered by ID. An empty state
// returns every record.
func (s *BoltStore) ListJobs(state JobState) ([]*JobRecord, error) {
	var jobs []*JobRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(k, v []byte) error {
			job, err := decode(string(k), v)
			if err != nil {
				return err
			}
			if state == "" || job.State == state {
				jobs = append(jobs, job)
			}
			return nil
		})
	})
	return jobs, err
}

func decode(id string, data []byte) (*JobRecord, error) {
	var job JobRecord
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
