package models

import "time"

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

const (
	// JobQueued indicates the job exists but its input is not written yet.
	JobQueued JobStatus = "queued"
	// JobReady indicates the job can be picked up by the supervisor.
	JobReady JobStatus = "ready"
	// JobRunning indicates the engine process is alive.
	JobRunning JobStatus = "running"
	// JobFinished indicates the engine exited successfully.
	JobFinished JobStatus = "finished"
	// JobFailed indicates the job could not be started or the engine crashed.
	JobFailed JobStatus = "failed"
	// JobStopped indicates the user stopped the job.
	JobStopped JobStatus = "stopped"
)

// Valid returns true if the status is a known value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobReady, JobRunning, JobFinished, JobFailed, JobStopped:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses a job never leaves.
func (s JobStatus) Terminal() bool {
	return s == JobFinished || s == JobFailed || s == JobStopped
}

// BootstrapType selects the IQ-TREE bootstrap flavour.
type BootstrapType string

const (
	BootstrapNormal BootstrapType = "normal"
	BootstrapFast   BootstrapType = "fast"
)

// MLParams holds maximum-likelihood engine settings.
type MLParams struct {
	// Bootstrap is the number of bootstrap replicates (0 disables bootstrapping).
	Bootstrap int `json:"bootstrap" yaml:"bootstrap"`
	// BootstrapType chooses -b (normal) or -bb (ultrafast).
	BootstrapType BootstrapType `json:"bootstrap_type" yaml:"bootstrap_type"`
	// Morphological adds -st MORPH.
	Morphological bool `json:"morphological" yaml:"morphological"`
}

// BayesParams holds MrBayes settings.
type BayesParams struct {
	NST         int    `json:"nst" yaml:"nst"`
	Rates       string `json:"rates" yaml:"rates"`
	Runs        int    `json:"runs" yaml:"runs"`
	Chains      int    `json:"chains" yaml:"chains"`
	Generations int    `json:"generations" yaml:"generations"`
	SampleFreq  int    `json:"sample_freq" yaml:"sample_freq"`
	BurnIn      int    `json:"burn_in" yaml:"burn_in"`
}

// DefaultBayesParams returns the MrBayes settings used when a job does not specify any.
func DefaultBayesParams() BayesParams {
	return BayesParams{
		NST:         6,
		Rates:       "invgamma",
		Runs:        2,
		Chains:      4,
		Generations: 1000000,
		SampleFreq:  1000,
		BurnIn:      250,
	}
}

// ParsimonyParams holds TNT settings.
type ParsimonyParams struct {
	// Replications is the number of random addition sequences for "mult".
	Replications int `json:"replications" yaml:"replications"`
	// HoldTrees is the tree buffer size ("hold").
	HoldTrees int `json:"hold_trees" yaml:"hold_trees"`
}

// AnalysisJob is one requested run of an external engine over a data matrix.
type AnalysisJob struct {
	// ID is the unique identifier for this job.
	ID string `json:"id"`
	// MatrixID is the owning data matrix.
	MatrixID string `json:"matrix_id"`
	// Category selects the engine.
	Category Category `json:"category"`
	// Status is the current lifecycle state.
	Status JobStatus `json:"status"`
	// Percentage is the completion percentage in [0,100], one decimal.
	Percentage float64 `json:"percentage"`
	// ResultDir is the working directory owned by the job while it runs.
	ResultDir string `json:"result_dir"`
	// Reason explains the last terminal transition.
	Reason string `json:"reason,omitempty"`
	// CreatedAt orders the queue.
	CreatedAt time.Time `json:"created_at"`
	// StartTime is set when the engine starts.
	StartTime *time.Time `json:"start_time,omitempty"`
	// FinishTime is set on every terminal transition.
	FinishTime *time.Time `json:"finish_time,omitempty"`

	ML        MLParams        `json:"ml"`
	Bayes     BayesParams     `json:"bayes"`
	Parsimony ParsimonyParams `json:"parsimony"`
}

// TreeType tags stored trees.
type TreeType string

// TreeConsensus is the only tree type produced by the supervisor.
const TreeConsensus TreeType = "consensus"

// ConsensusTree is the canonical Newick summary produced by a finished job.
// It is written once and never updated.
type ConsensusTree struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Type      TreeType  `json:"type"`
	Newick    string    `json:"newick"`
	CreatedAt time.Time `json:"created_at"`
}
