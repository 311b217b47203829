package engine

import (
	"github.com/google/uuid"

	"github.com/franksops/filestore/provider"
)

// jobNamespace scopes mirror job IDs.
var jobNamespace = uuid.MustParse("6f1c1b4e-93a4-4c52-8d55-2f0e7a1d9b3c")

// TransferJob represents a single entry copied from the source provider to
// the destination provider.
type TransferJob struct {
	// ID is derived from both paths, so a re-run of the same mirror finds
	// the records of the previous run.
	ID string

	SourcePath      string
	DestinationPath string

	// Spec is the source entry as listed when the job was created.
	Spec provider.FileSpec
}

// NewTransferJob creates a job copying spec to destPath.
func NewTransferJob(spec provider.FileSpec, destPath string) TransferJob {
	return TransferJob{
		ID:              JobID(spec.Path, destPath),
		SourcePath:      spec.Path,
		DestinationPath: destPath,
		Spec:            spec,
	}
}

// JobID returns the stable identifier of the src → dst transfer.
func JobID(src, dst string) string {
	return uuid.NewSHA1(jobNamespace, []byte(src+"\x00"+dst)).String()
}

// JobChannel is a channel used to queue and dispatch TransferJobs to workers
// in the worker pool.
type JobChannel chan TransferJob
