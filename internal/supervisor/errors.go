package supervisor

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/phylorun/internal/state"
)

var (
	// ErrFileOperation covers missing, unreadable or unwritable paths.
	ErrFileOperation = errors.New("file operation failed")
	// ErrProcessExecution covers missing or non-executable binaries,
	// processes that fail to start, crashes and timeouts.
	ErrProcessExecution = errors.New("process execution failed")
	// ErrStopUnconfirmed is returned by Stop when the engine could not be
	// shown to have exited. The job keeps its Running status.
	ErrStopUnconfirmed = errors.New("engine termination not confirmed")
	// ErrSupervisorActive is returned by Run and Drain while another
	// supervisor holds the repository lease.
	ErrSupervisorActive = state.ErrSupervisorActive
)

// JobError is a failure tied to one job.
type JobError struct {
	JobID string
	// Kind is ErrFileOperation or ErrProcessExecution.
	Kind error
	Op   string
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, e.Op, e.Err)
}

// Unwrap lets errors.Is match both the kind and the cause.
func (e *JobError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func fileError(jobID, op string, err error) *JobError {
	return &JobError{JobID: jobID, Kind: ErrFileOperation, Op: op, Err: err}
}

func processError(jobID, op string, err error) *JobError {
	return &JobError{JobID: jobID, Kind: ErrProcessExecution, Op: op, Err: err}
}
