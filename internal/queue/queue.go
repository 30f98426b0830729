// Package queue orders analysis jobs for the supervisor.
package queue

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/phylorun/internal/state"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// Store is the part of the repository the queue needs.
type Store interface {
	CreateJob(j *models.AnalysisJob) error
	GetJob(id string) (*models.AnalysisJob, error)
	UpdateJob(j *models.AnalysisJob) error
	ListJobsByStatus(status models.JobStatus) ([]models.AnalysisJob, error)
	ClaimJob(id string, at time.Time) (bool, error)
}

var _ Store = (state.JobStore)(nil)

// Queue is a FIFO of Ready jobs ordered by creation time, then ID.
// It holds no state of its own beyond a wake-up channel; the repository
// is the source of truth.
type Queue struct {
	store Store
	wake  chan struct{}
}

// New creates a queue over store.
func New(store Store) *Queue {
	return &Queue{
		store: store,
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue persists a new job as Queued.
func (q *Queue) Enqueue(j *models.AnalysisJob) error {
	if !j.Category.Valid() {
		return fmt.Errorf("enqueue: unknown category %q", j.Category)
	}
	j.Status = models.JobQueued
	j.Percentage = 0
	if err := q.store.CreateJob(j); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// MarkReady moves a Queued job to Ready once its input data exists and
// wakes the supervisor.
func (q *Queue) MarkReady(id string) error {
	j, err := q.store.GetJob(id)
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if j == nil {
		return fmt.Errorf("mark ready: job %s not found", id)
	}
	if j.Status != models.JobQueued {
		return fmt.Errorf("mark ready: job %s is %s, not %s", id, j.Status, models.JobQueued)
	}
	j.Status = models.JobReady
	if err := q.store.UpdateJob(j); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	q.Notify()
	return nil
}

// NextReady returns the oldest Ready job, or nil when none is Ready.
// It does not change any status, so repeated calls return the same job.
func (q *Queue) NextReady() (*models.AnalysisJob, error) {
	jobs, err := q.store.ListJobsByStatus(models.JobReady)
	if err != nil {
		return nil, fmt.Errorf("next ready: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// Claim takes a job returned by NextReady for the calling supervisor,
// moving it from Ready to Running. It reports false when another
// supervisor claimed it first; the job is then left alone.
func (q *Queue) Claim(j *models.AnalysisJob) (bool, error) {
	now := time.Now()
	ok, err := q.store.ClaimJob(j.ID, now)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !ok {
		return false, nil
	}
	j.Status = models.JobRunning
	j.StartTime = &now
	j.FinishTime = nil
	j.Reason = ""
	return true, nil
}

// Pending returns the number of Ready jobs.
func (q *Queue) Pending() (int, error) {
	jobs, err := q.store.ListJobsByStatus(models.JobReady)
	if err != nil {
		return 0, fmt.Errorf("pending: %w", err)
	}
	return len(jobs), nil
}

// Notify wakes a waiting supervisor without blocking.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Wake is signalled whenever a job becomes Ready.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
