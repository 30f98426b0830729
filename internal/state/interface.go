package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/phylorun/pkg/models"
)

// MatrixStore handles data matrix persistence.
type MatrixStore interface {
	CreateMatrix(r *MatrixRecord) error
	GetMatrix(id string) (*MatrixRecord, error)
	UpdateMatrix(r *MatrixRecord) error
	ListMatrices() ([]MatrixRecord, error)
	DeleteMatrix(id string) error
}

// JobStore handles analysis job persistence.
type JobStore interface {
	CreateJob(j *models.AnalysisJob) error
	GetJob(id string) (*models.AnalysisJob, error)
	UpdateJob(j *models.AnalysisJob) error
	UpdateProgress(id string, percentage float64) error
	ListJobs() ([]models.AnalysisJob, error)
	ListJobsByStatus(status models.JobStatus) ([]models.AnalysisJob, error)
	DeleteJob(id string) error
	// ClaimJob moves a Ready job to Running for this process. It reports
	// false when the job was no longer Ready.
	ClaimJob(id string, at time.Time) (bool, error)
}

// StopStore carries stop requests from other processes to the supervisor.
type StopStore interface {
	RequestStop(id string) (bool, error)
	StopRequested(id string) (bool, error)
	ClearStop(id string) error
}

// LeaseStore keeps a single supervisor running per database.
type LeaseStore interface {
	AcquireLease(owner string) error
	ReleaseLease(owner string) error
}

// TreeStore handles consensus tree persistence. Trees are never updated.
type TreeStore interface {
	CreateConsensusTree(t *models.ConsensusTree) error
	GetConsensusTree(jobID string) (*models.ConsensusTree, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Repository is everything the supervisor and CLI need from storage.
// It lets them work with any backend without depending on SQLite.
type Repository interface {
	io.Closer
	Migrator
	MatrixStore
	JobStore
	StopStore
	LeaseStore
	TreeStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Repository  = (*DB)(nil)
	_ Migrator    = (*DB)(nil)
	_ MatrixStore = (*DB)(nil)
	_ JobStore    = (*DB)(nil)
	_ StopStore   = (*DB)(nil)
	_ LeaseStore  = (*DB)(nil)
	_ TreeStore   = (*DB)(nil)
)
