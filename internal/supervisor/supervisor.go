// Package supervisor drains the job queue, running one external engine at
// a time and turning its output into progress, status and a consensus tree.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/phylorun/internal/engine"
	"github.com/ShayCichocki/phylorun/internal/exec"
	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/internal/queue"
	"github.com/ShayCichocki/phylorun/internal/state"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// Phase is the supervisor's position in a job's lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreparing Phase = "preparing"
	PhaseRunning   Phase = "running"
	PhaseFinishing Phase = "finishing"
	PhaseFailing   Phase = "failing"
	PhaseStopping  Phase = "stopping"
)

// Terminal reasons recorded on jobs.
const (
	ReasonCompleted = "completed"
	ReasonStopped   = "stopped by user"
	ReasonShutdown  = "supervisor shut down"
)

// Supervisor runs Ready jobs one at a time.
type Supervisor struct {
	repo      state.Repository
	queue     *queue.Queue
	table     *engine.Table
	cfg       Config
	launcher  exec.Launcher
	emitter   *EventEmitter
	metrics   Metrics
	archiver  Archiver
	logger    *DebugLogger
	recoverer Recoverer
	consensus *ConsensusBuilder
	// owner identifies this supervisor's lease on the repository.
	owner string

	// runMu serializes Run and Drain.
	runMu       sync.Mutex
	recoverOnce sync.Once
	recoverErr  error

	mu     sync.Mutex
	phase  Phase
	active *activeJob
}

// activeJob lets Stop reach the job loop.
type activeJob struct {
	id   string
	stop chan stopRequest
	done chan struct{}
}

type stopRequest struct {
	reply chan error
}

// New creates a supervisor. The repository and configuration are the
// only shared state it uses.
func New(repo state.Repository, q *queue.Queue, table *engine.Table, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		repo:      repo,
		queue:     q,
		table:     table,
		cfg:       cfg,
		launcher:  exec.NewLauncher(),
		metrics:   nopMetrics{},
		logger:    NopLogger(),
		consensus: NewConsensusBuilder(repo),
		owner:     uuid.New().String(),
		phase:     PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.StartTimeout <= 0 {
		s.cfg.StartTimeout = 10 * time.Second
	}
	if s.cfg.StopTimeout <= 0 {
		s.cfg.StopTimeout = 5 * time.Second
	}
	return s
}

// Phase returns the current phase.
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Current returns the ID of the running job, or "".
func (s *Supervisor) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.id
}

// Run drains the queue, then sleeps until a job becomes Ready, until ctx
// is cancelled. A running job is stopped gracefully on cancellation.
// It returns ErrSupervisorActive if another supervisor holds the lease.
func (s *Supervisor) Run(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	if err := s.recover(); err != nil {
		return err
	}

	var poll <-chan time.Time
	if s.cfg.PollInterval > 0 {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		if err := s.drain(ctx, nil); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.setPhase(PhaseIdle)
		select {
		case <-ctx.Done():
			return nil
		case <-s.queue.Wake():
		case <-poll:
		}
	}
}

// Drain runs Ready jobs until none remain and returns the job failures
// joined together.
func (s *Supervisor) Drain(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	if err := s.recover(); err != nil {
		return err
	}

	var errs []error
	err := s.drain(ctx, func(err error) { errs = append(errs, err) })
	s.setPhase(PhaseIdle)
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// acquire takes the repository lease so only one supervisor runs engines.
func (s *Supervisor) acquire() error {
	if err := s.repo.AcquireLease(s.owner); err != nil {
		return fmt.Errorf("acquire supervisor lease: %w", err)
	}
	s.logger.Log("LEASE acquired owner=%s", s.owner)
	return nil
}

func (s *Supervisor) release() {
	if err := s.repo.ReleaseLease(s.owner); err != nil {
		log.Printf("[supervisor] release lease: %v", err)
	}
}

func (s *Supervisor) recover() error {
	s.recoverOnce.Do(func() {
		if s.recoverer == nil {
			return
		}
		cleaned, err := s.recoverer.Clean()
		if err != nil {
			s.recoverErr = fmt.Errorf("recover interrupted jobs: %w", err)
			return
		}
		for _, id := range cleaned {
			s.logger.Log("RECOVER job %s marked failed (%s)", id, state.ReasonInterrupted)
		}
	})
	return s.recoverErr
}

// drain returns only errors that prevent it from continuing; job
// failures go to onJobErr.
func (s *Supervisor) drain(ctx context.Context, onJobErr func(error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := s.queue.NextReady()
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		claimed, err := s.queue.Claim(job)
		if err != nil {
			return err
		}
		if !claimed {
			log.Printf("[supervisor] job %s claimed elsewhere, skipping", job.ID)
			continue
		}
		jobErr, err := s.runJob(ctx, job)
		if err != nil {
			return err
		}
		if jobErr != nil && onJobErr != nil {
			onJobErr(jobErr)
		}
	}
}

// Stop stops a running job and waits for the engine to exit. It is a
// no-op for jobs that are not running. A job running under another
// supervisor process gets a stop request that process picks up.
func (s *Supervisor) Stop(ctx context.Context, jobID string) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active != nil && active.id == jobID {
		req := stopRequest{reply: make(chan error, 1)}
		select {
		case active.stop <- req:
		case <-active.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case err := <-req.reply:
			return err
		case <-active.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	job, err := s.repo.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status != models.JobRunning {
		return nil
	}
	if _, err := s.repo.RequestStop(jobID); err != nil {
		return err
	}
	return nil
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Supervisor) transition(job *models.AnalysisJob, p Phase) {
	s.setPhase(p)
	s.logger.Log("PHASE job=%s category=%s -> %s", job.ID, job.Category, p)
	s.emitter.Emit(Event{Type: EventStatus, JobID: job.ID, Category: job.Category, Phase: p, Status: job.Status, Percentage: job.Percentage})
}

// run is the per-job state while an engine is alive.
type run struct {
	job     *models.AnalysisJob
	handler *engine.Handler
	matrix  *matrix.DataMatrix
	spec    exec.Spec
	proc    exec.Process
	log     *progressLog
	extract engine.Extractor
	tracker *progressTracker
	lines   map[exec.Stream]*lineSplitter
}

// runJob takes one Ready job to a terminal status. The first return is
// the job's failure, the second a repository error that should stop the
// caller from taking further jobs.
func (s *Supervisor) runJob(ctx context.Context, job *models.AnalysisJob) (*JobError, error) {
	s.transition(job, PhasePreparing)

	r, jobErr := s.prepare(job)
	if jobErr == nil {
		jobErr = s.start(ctx, r)
	}
	if jobErr != nil {
		if r != nil && r.log != nil {
			r.log.Close()
		}
		return jobErr, s.fail(job, r, jobErr)
	}
	defer func() {
		if r.log != nil {
			r.log.Close()
		}
	}()

	now := time.Now()
	job.Status = models.JobRunning
	job.StartTime = &now
	job.FinishTime = nil
	job.Reason = ""
	if err := s.repo.UpdateJob(job); err != nil {
		r.proc.Kill()
		<-r.proc.Done()
		return nil, fmt.Errorf("mark job %s running: %w", job.ID, err)
	}
	log.Printf("[supervisor] job %s running: %s (pid %d, dir %s)", job.ID, r.spec.CommandLine(), r.proc.PID(), r.spec.Dir)
	s.metrics.EngineStarted(job)
	s.transition(job, PhaseRunning)

	status, reason, jobErr := s.supervise(ctx, r)

	switch status {
	case models.JobFinished:
		s.setPhase(PhaseFinishing)
		if err := s.finalize(job, models.JobFinished, ReasonCompleted); err != nil {
			return nil, err
		}
		s.transition(job, PhaseFinishing)
		s.buildConsensus(ctx, r)
		return nil, nil
	case models.JobStopped:
		if err := s.finalize(job, models.JobStopped, reason); err != nil {
			return nil, err
		}
		s.transition(job, PhaseStopping)
		return nil, nil
	default:
		return jobErr, s.fail(job, r, jobErr)
	}
}

// prepare resolves the handler, checks the binary, and writes the input
// files into the result directory.
func (s *Supervisor) prepare(job *models.AnalysisJob) (*run, *JobError) {
	h, err := s.table.For(job.Category)
	if err != nil {
		return nil, processError(job.ID, "select engine", err)
	}
	rec, err := s.repo.GetMatrix(job.MatrixID)
	if err != nil {
		return nil, fileError(job.ID, "load matrix", err)
	}
	if rec == nil {
		return nil, fileError(job.ID, "load matrix", fmt.Errorf("matrix %s not found", job.MatrixID))
	}
	m, err := rec.Matrix()
	if err != nil {
		return nil, fileError(job.ID, "load matrix", err)
	}

	binary, err := exec.ResolveBinary(h.Binary)
	if err != nil {
		return nil, processError(job.ID, "resolve engine binary", err)
	}

	if job.ResultDir == "" {
		job.ResultDir = filepath.Join(s.cfg.ResultsDir, job.ID)
	}
	r := &run{
		job:     job,
		handler: h,
		matrix:  m,
		spec:    exec.Spec{Path: binary, Args: h.Args(job, m), Dir: job.ResultDir},
		extract: h.Extractor(job),
		tracker: newProgressTracker(job.Percentage),
		lines:   map[exec.Stream]*lineSplitter{exec.Stdout: {}, exec.Stderr: {}},
	}

	if err := os.MkdirAll(job.ResultDir, 0755); err != nil {
		return r, fileError(job.ID, "create result directory", err)
	}
	files, err := h.Inputs(job, m)
	if err != nil {
		return r, fileError(job.ID, "encode input", err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(job.ResultDir, f.Name), []byte(f.Content), 0644); err != nil {
			return r, fileError(job.ID, "write input", err)
		}
	}
	r.log, err = openProgressLog(job.ResultDir)
	if err != nil {
		return r, fileError(job.ID, "open progress log", err)
	}
	return r, nil
}

// start spawns the engine, giving up after StartTimeout.
func (s *Supervisor) start(ctx context.Context, r *run) *JobError {
	type started struct {
		proc exec.Process
		err  error
	}
	ch := make(chan started, 1)
	// Shutdown goes through the graceful stop path, not context kill.
	procCtx := context.WithoutCancel(ctx)
	go func() {
		p, err := s.launcher.Start(procCtx, r.spec)
		ch <- started{p, err}
	}()

	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return processError(r.job.ID, "start engine", res.err)
		}
		r.proc = res.proc
		return nil
	case <-timer.C:
		go func() {
			if res := <-ch; res.proc != nil {
				res.proc.Kill()
			}
		}()
		return processError(r.job.ID, "start engine", fmt.Errorf("not started within %s", s.cfg.StartTimeout))
	}
}

// supervise streams output until the engine exits and decides the
// terminal status.
func (s *Supervisor) supervise(ctx context.Context, r *run) (models.JobStatus, string, *JobError) {
	active := &activeJob{id: r.job.ID, stop: make(chan stopRequest), done: make(chan struct{})}
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		close(active.done)
	}()

	var pollC <-chan time.Time
	if s.cfg.StopPollInterval > 0 {
		ticker := time.NewTicker(s.cfg.StopPollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	out := r.proc.Output()
	ctxDone := ctx.Done()
	var (
		graceC, killC <-chan time.Time
		waiters       []chan error
		stopping      bool
		killed        bool
		unconfirm     error
		stopReason    string
		writeErr      error
	)

	kill := func() {
		if killed {
			return
		}
		killed = true
		if err := r.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Printf("[supervisor] job %s: kill pid %d: %v", r.job.ID, r.proc.PID(), err)
		}
	}
	beginStop := func(reason string) {
		if stopping {
			return
		}
		stopping = true
		stopReason = reason
		s.transition(r.job, PhaseStopping)
		if err := r.proc.Terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Printf("[supervisor] job %s: terminate pid %d: %v", r.job.ID, r.proc.PID(), err)
		}
		graceC = time.After(s.cfg.StopTimeout)
	}
	handle := func(c exec.Chunk) {
		if err := s.handleChunk(r, c); err != nil && writeErr == nil {
			writeErr = err
			log.Printf("[supervisor] job %s: %v, killing engine", r.job.ID, err)
			kill()
		}
	}

	for {
		select {
		case c, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			handle(c)

		case <-r.proc.Done():
			if out != nil {
				for c := range out {
					handle(c)
				}
			}
			for _, sp := range r.lines {
				for _, line := range sp.flush() {
					s.observeLine(r, line)
				}
			}
			for _, w := range waiters {
				w <- nil
			}

			switch err := r.proc.Err(); {
			case writeErr != nil:
				return models.JobFailed, "", fileError(r.job.ID, "write progress log", writeErr)
			case stopping:
				return models.JobStopped, stopReason, nil
			case err == nil:
				return models.JobFinished, ReasonCompleted, nil
			default:
				s.logger.Log("EXIT job=%s pid=%d code=%d", r.job.ID, r.proc.PID(), exec.ExitCode(err))
				if tail := r.proc.StderrTail(); tail != "" {
					err = fmt.Errorf("%w: %s", err, tail)
				}
				return models.JobFailed, "", processError(r.job.ID, "engine crashed", err)
			}

		case req := <-active.stop:
			if unconfirm != nil {
				req.reply <- unconfirm
				continue
			}
			waiters = append(waiters, req.reply)
			beginStop(ReasonStopped)

		case <-pollC:
			requested, err := s.repo.StopRequested(r.job.ID)
			if err != nil {
				log.Printf("[supervisor] job %s: check stop request: %v", r.job.ID, err)
				continue
			}
			if requested {
				beginStop(ReasonStopped)
			}

		case <-ctxDone:
			ctxDone = nil
			beginStop(ReasonShutdown)

		case <-graceC:
			graceC = nil
			log.Printf("[supervisor] job %s: engine did not exit within %s of terminate, killing", r.job.ID, s.cfg.StopTimeout)
			s.logger.Log("KILL job=%s pid=%d", r.job.ID, r.proc.PID())
			kill()
			killC = time.After(s.cfg.StopTimeout)

		case <-killC:
			killC = nil
			unconfirm = fmt.Errorf("job %s pid %d: %w", r.job.ID, r.proc.PID(), ErrStopUnconfirmed)
			log.Printf("[supervisor] %v", unconfirm)
			s.emitter.Emit(Event{Type: EventError, JobID: r.job.ID, Category: r.job.Category, Phase: PhaseStopping, Status: r.job.Status, Error: unconfirm, Message: unconfirm.Error()})
			for _, w := range waiters {
				w <- unconfirm
			}
			waiters = nil
		}
	}
}

// handleChunk appends c to the progress log, publishes it and feeds its
// lines to the extractor.
func (s *Supervisor) handleChunk(r *run, c exec.Chunk) error {
	var err error
	if r.log != nil {
		if err = r.log.write(c.Data); err != nil {
			r.log.Close()
			r.log = nil
		}
	}
	s.emitter.Emit(Event{Type: EventOutput, JobID: r.job.ID, Category: r.job.Category, Phase: PhaseRunning, Status: r.job.Status, Stream: string(c.Stream), Data: c.Data})
	for _, line := range r.lines[c.Stream].feed(c.Data) {
		s.observeLine(r, line)
	}
	return err
}

func (s *Supervisor) observeLine(r *run, line string) {
	p, ok := r.extract.Extract(line)
	if !ok {
		return
	}
	p, ok = r.tracker.observe(p)
	if !ok {
		return
	}
	r.job.Percentage = p
	if err := s.repo.UpdateProgress(r.job.ID, p); err != nil {
		log.Printf("[supervisor] job %s: persist progress %.1f: %v", r.job.ID, p, err)
	}
	s.metrics.ProgressUpdated(r.job)
	s.emitter.Emit(Event{Type: EventProgress, JobID: r.job.ID, Category: r.job.Category, Phase: PhaseRunning, Status: r.job.Status, Percentage: p})
}

// finalize persists a terminal status.
func (s *Supervisor) finalize(job *models.AnalysisJob, status models.JobStatus, reason string) error {
	now := time.Now()
	job.Status = status
	job.Reason = reason
	job.FinishTime = &now
	if status == models.JobFinished {
		job.Percentage = 100
	}
	if err := s.repo.UpdateJob(job); err != nil {
		return fmt.Errorf("mark job %s %s: %w", job.ID, status, err)
	}
	log.Printf("[supervisor] job %s %s: %s", job.ID, status, reason)
	s.logger.Log("STATUS job=%s -> %s (%s)", job.ID, status, reason)
	s.metrics.JobFinished(job)
	return nil
}

// fail records jobErr as the job's terminal reason and publishes it.
func (s *Supervisor) fail(job *models.AnalysisJob, r *run, jobErr *JobError) error {
	s.transition(job, PhaseFailing)
	if r != nil {
		log.Printf("[supervisor] job %s failed: %v (command: %s, dir: %s)", job.ID, jobErr, r.spec.CommandLine(), r.spec.Dir)
	} else {
		log.Printf("[supervisor] job %s failed: %v", job.ID, jobErr)
	}
	reason := fmt.Sprintf("%s: %v", jobErr.Op, jobErr.Err)
	if err := s.finalize(job, models.JobFailed, reason); err != nil {
		return err
	}
	s.emitter.Emit(Event{Type: EventError, JobID: job.ID, Category: job.Category, Phase: PhaseFailing, Status: job.Status, Error: jobErr, Message: reason})
	return nil
}

// buildConsensus stores the consensus tree and archives the results.
// Failures here leave the job Finished.
func (s *Supervisor) buildConsensus(ctx context.Context, r *run) {
	out := r.handler.OutputTree(r.job, r.matrix)
	ct, err := s.consensus.Build(r.job, r.matrix, out)
	if err != nil {
		log.Printf("[supervisor] job %s: consensus tree: %v", r.job.ID, err)
		s.emitter.Emit(Event{Type: EventError, JobID: r.job.ID, Category: r.job.Category, Phase: PhaseFinishing, Status: r.job.Status, Error: err, Message: "consensus tree: " + err.Error()})
	} else if ct != nil {
		s.emitter.Emit(Event{Type: EventConsensus, JobID: r.job.ID, Category: r.job.Category, Phase: PhaseFinishing, Status: r.job.Status, Message: ct.Newick})
	}

	if s.archiver == nil {
		return
	}
	paths := []string{filepath.Join(r.job.ResultDir, ProgressLogName)}
	if treeFile := filepath.Join(r.job.ResultDir, out.File); fileExists(treeFile) {
		paths = append(paths, treeFile)
	}
	newick := ""
	if ct != nil {
		newick = ct.Newick
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	if err := s.archiver.Archive(actx, r.job.ID, paths, newick); err != nil {
		log.Printf("[supervisor] job %s: archive results: %v", r.job.ID, err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
