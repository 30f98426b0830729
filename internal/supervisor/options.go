package supervisor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/phylorun/internal/exec"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// Config holds supervisor timing and layout settings.
type Config struct {
	// ResultsDir is the parent of job result directories that were not
	// given one explicitly.
	ResultsDir string
	// StartTimeout bounds the wait for the engine to spawn.
	StartTimeout time.Duration
	// StopTimeout is the grace period after terminate, and again after kill.
	StopTimeout time.Duration
	// StopPollInterval is how often stop requests from other processes
	// are checked while a job runs.
	StopPollInterval time.Duration
	// PollInterval makes Run look for Ready jobs periodically. Zero means
	// Run only wakes when the queue signals.
	PollInterval time.Duration
}

// DefaultConfig returns the default supervisor settings for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		ResultsDir:       filepath.Join(dataDir, "results"),
		StartTimeout:     10 * time.Second,
		StopTimeout:      5 * time.Second,
		StopPollInterval: 500 * time.Millisecond,
	}
}

// Metrics receives job lifecycle notifications.
type Metrics interface {
	EngineStarted(job *models.AnalysisJob)
	ProgressUpdated(job *models.AnalysisJob)
	JobFinished(job *models.AnalysisJob)
}

// Archiver copies a finished job's results somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, jobID string, paths []string, consensus string) error
}

// Recoverer cleans up jobs left Running by a previous supervisor.
type Recoverer interface {
	Clean() ([]string, error)
}

// Option configures a Supervisor. Use With* functions to create Options.
type Option func(*Supervisor)

// WithLauncher replaces the os/exec launcher.
func WithLauncher(l exec.Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithEmitter sets the event emitter.
func WithEmitter(e *EventEmitter) Option {
	return func(s *Supervisor) { s.emitter = e }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithArchiver enables result archival.
func WithArchiver(a Archiver) Option {
	return func(s *Supervisor) { s.archiver = a }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithRecovery runs r once before the first job is taken.
func WithRecovery(r Recoverer) Option {
	return func(s *Supervisor) { s.recoverer = r }
}

type nopMetrics struct{}

func (nopMetrics) EngineStarted(*models.AnalysisJob)   {}
func (nopMetrics) ProgressUpdated(*models.AnalysisJob) {}
func (nopMetrics) JobFinished(*models.AnalysisJob)     {}
