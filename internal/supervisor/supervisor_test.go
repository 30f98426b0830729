package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/phylorun/internal/engine"
	"github.com/ShayCichocki/phylorun/internal/exec"
	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/internal/queue"
	"github.com/ShayCichocki/phylorun/internal/state"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

type harness struct {
	db       *state.DB
	queue    *queue.Queue
	sup      *Supervisor
	emitter  *EventEmitter
	matrixID string
	dir      string
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engines are shell scripts")
	}
}

// writeScript creates an executable shell script acting as an engine.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newHarness(t *testing.T, ecfg engine.Config, opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := state.OpenDataDir(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("OpenDataDir failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := matrix.New("beetles")
	for _, name := range []string{"Taxon_A", "Taxon_B", "Taxon C"} {
		if err := m.AddTaxon(name); err != nil {
			t.Fatal(err)
		}
	}
	for j := 0; j < 3; j++ {
		m.AddCharacter("")
	}
	for i, row := range []string{"010", "101", "001"} {
		for j, r := range row {
			if err := m.SetCell(i, j, matrix.Single(string(r))); err != nil {
				t.Fatal(err)
			}
		}
	}
	rec, err := state.NewMatrixRecord(m, models.DialectNexus)
	if err != nil {
		t.Fatalf("NewMatrixRecord failed: %v", err)
	}
	if err := db.CreateMatrix(rec); err != nil {
		t.Fatalf("CreateMatrix failed: %v", err)
	}

	cfg := DefaultConfig(dir)
	cfg.StopTimeout = 200 * time.Millisecond
	cfg.StopPollInterval = 50 * time.Millisecond

	q := queue.New(db)
	emitter := NewEventEmitter(4096)
	opts = append([]Option{WithEmitter(emitter)}, opts...)
	return &harness{
		db:       db,
		queue:    q,
		sup:      New(db, q, engine.NewTable(ecfg), cfg, opts...),
		emitter:  emitter,
		matrixID: rec.ID,
		dir:      dir,
	}
}

func (h *harness) submit(t *testing.T, job models.AnalysisJob) *models.AnalysisJob {
	t.Helper()
	job.MatrixID = h.matrixID
	if err := h.queue.Enqueue(&job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := h.queue.MarkReady(job.ID); err != nil {
		t.Fatalf("MarkReady failed: %v", err)
	}
	return &job
}

func (h *harness) job(t *testing.T, id string) *models.AnalysisJob {
	t.Helper()
	j, err := h.db.GetJob(id)
	if err != nil || j == nil {
		t.Fatalf("GetJob(%s) = %v, %v", id, j, err)
	}
	return j
}

// events returns the events buffered so far.
func (h *harness) events() []Event {
	var out []Event
	for {
		select {
		case e := <-h.emitter.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

// waitFor reads events until match returns true.
func (h *harness) waitFor(t *testing.T, match func(Event) bool) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e := <-h.emitter.Events():
			if match(e) {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func progressOf(events []Event) []float64 {
	var out []float64
	for _, e := range events {
		if e.Type == EventProgress {
			out = append(out, e.Percentage)
		}
	}
	return out
}

func TestDrain_MLFinishesWithConsensus(t *testing.T) {
	skipWithoutShell(t)
	bin := t.TempDir()
	ecfg := engine.DefaultConfig()
	ecfg.IQTreePath = writeScript(t, bin, "iqtree2", `
echo "IQ-TREE multicore version 2 (fake)"
echo "===> START BOOTSTRAP REPLICATE NUMBER 250"
echo "===> START BOOTSTRAP REPLICATE NUMBER 100"
printf "===> START BOOTSTRAP REPLICATE "
sleep 0.05
echo "NUMBER 500"
echo "(Taxon_A:0.1,(Taxon_B:0.2,Taxon_C:0.3):0.05);" > "$2.treefile"
`)
	h := newHarness(t, ecfg)
	job := h.submit(t, models.AnalysisJob{
		Category: models.CategoryMaximumLikelihood,
		ML:       models.MLParams{Bootstrap: 1000, BootstrapType: models.BootstrapFast},
	})

	if err := h.sup.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	got := h.job(t, job.ID)
	if got.Status != models.JobFinished {
		t.Fatalf("Status = %s (%s), want finished", got.Status, got.Reason)
	}
	if got.Percentage != 100 || got.FinishTime == nil || got.StartTime == nil {
		t.Errorf("Percentage = %v, StartTime = %v, FinishTime = %v", got.Percentage, got.StartTime, got.FinishTime)
	}
	if got.Reason != ReasonCompleted {
		t.Errorf("Reason = %q, want %q", got.Reason, ReasonCompleted)
	}

	progress := progressOf(h.events())
	want := []float64{25.0, 50.0}
	if len(progress) != len(want) || progress[0] != want[0] || progress[1] != want[1] {
		t.Errorf("progress events = %v, want %v", progress, want)
	}

	raw, err := os.ReadFile(filepath.Join(got.ResultDir, ProgressLogName))
	if err != nil {
		t.Fatalf("read progress log: %v", err)
	}
	if !strings.Contains(string(raw), "REPLICATE NUMBER 250") || !strings.Contains(string(raw), "IQ-TREE") {
		t.Errorf("progress.log = %q", raw)
	}
	if _, err := os.Stat(filepath.Join(got.ResultDir, "beetles.phy")); err != nil {
		t.Errorf("input file missing: %v", err)
	}

	ct, err := h.db.GetConsensusTree(job.ID)
	if err != nil || ct == nil {
		t.Fatalf("GetConsensusTree = %v, %v", ct, err)
	}
	if ct.Newick != "(Taxon_A:0.1,(Taxon_B:0.2,'Taxon C':0.3):0.05);" {
		t.Errorf("consensus = %q", ct.Newick)
	}
}

func TestDrain_ParsimonyHasNoIntermediateProgress(t *testing.T) {
	skipWithoutShell(t)
	bin := t.TempDir()
	ecfg := engine.DefaultConfig()
	ecfg.TNTPath = writeScript(t, bin, "tnt", `
[ "$1" = run ] || exit 9
[ -f "$2" ] || exit 8
[ -f "$3" ] || exit 7
echo "Repl. Algor.     Tree        Score       Best Score"
echo "   5  TBR          0           12          12"
printf "tread 'strict consensus'\n(0 (1 2))*(0 1 2);\nproc-;\n" > phylorun_trees.tre
`)
	h := newHarness(t, ecfg)
	job := h.submit(t, models.AnalysisJob{Category: models.CategoryParsimony})

	if err := h.sup.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	events := h.events()
	if p := progressOf(events); len(p) != 0 {
		t.Errorf("progress events = %v, want none", p)
	}
	for _, e := range events {
		if e.Type == EventStatus && e.Status == models.JobRunning && e.Percentage != 0 {
			t.Errorf("running percentage = %v, want 0", e.Percentage)
		}
	}

	got := h.job(t, job.ID)
	if got.Status != models.JobFinished || got.Percentage != 100 {
		t.Fatalf("job = %s %.1f (%s), want finished 100", got.Status, got.Percentage, got.Reason)
	}
	ct, err := h.db.GetConsensusTree(job.ID)
	if err != nil || ct == nil {
		t.Fatalf("GetConsensusTree = %v, %v", ct, err)
	}
	if ct.Newick != "(Taxon_A,Taxon_B,'Taxon C');" {
		t.Errorf("consensus = %q", ct.Newick)
	}
}

func TestDrain_BayesianSelectsMajorityRule(t *testing.T) {
	skipWithoutShell(t)
	bin := t.TempDir()
	ecfg := engine.DefaultConfig()
	ecfg.MrBayesPath = writeScript(t, bin, "mb", `
grep -q "execute beetles.nex;" "$1" || exit 9
echo "   Chain results (1000 generations requested):"
echo "      500 -- [-1234.56] (-1240.12) -- 0:00:01"
echo "     1000 -- [-1230.00] (-1236.40) -- 0:00:00"
cat > "${1%.mb.nex}.nex.con.tre" <<'EOF'
#NEXUS
begin trees;
	translate
		1	Taxon_A,
		2	Taxon_B,
		3	'Taxon C';
	tree con_50_majrule = [&U] (1,(2,3));
end;
EOF
`)
	h := newHarness(t, ecfg)
	job := h.submit(t, models.AnalysisJob{
		Category: models.CategoryBayesian,
		Bayes:    models.BayesParams{Generations: 1000, SampleFreq: 10, BurnIn: 10},
	})

	if err := h.sup.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if p := progressOf(h.events()); len(p) != 2 || p[0] != 50 || p[1] != 100 {
		t.Errorf("progress events = %v, want [50 100]", p)
	}
	got := h.job(t, job.ID)
	if got.Status != models.JobFinished {
		t.Fatalf("Status = %s (%s), want finished", got.Status, got.Reason)
	}
	if _, err := os.Stat(filepath.Join(got.ResultDir, "beetles.mb.nex")); err != nil {
		t.Errorf("command script missing: %v", err)
	}
	ct, err := h.db.GetConsensusTree(job.ID)
	if err != nil || ct == nil {
		t.Fatalf("GetConsensusTree = %v, %v", ct, err)
	}
	if ct.Newick != "(Taxon_A,(Taxon_B,'Taxon C'));" {
		t.Errorf("consensus = %q", ct.Newick)
	}
}

func TestDrain_Failures(t *testing.T) {
	skipWithoutShell(t)

	tests := []struct {
		name       string
		script     string
		binary     string
		resultDir  func(t *testing.T) string
		wantKind   error
		wantReason string
	}{
		{
			name:       "crash",
			script:     "echo 'ERROR: alignment has no sites' >&2\nexit 2\n",
			wantKind:   ErrProcessExecution,
			wantReason: "exit status 2",
		},
		{
			name:       "missing binary",
			binary:     "/nonexistent/iqtree2",
			wantKind:   ErrProcessExecution,
			wantReason: "resolve engine binary",
		},
		{
			name:   "unwritable result directory",
			script: "exit 0\n",
			resultDir: func(t *testing.T) string {
				blocker := filepath.Join(t.TempDir(), "blocker")
				if err := os.WriteFile(blocker, nil, 0644); err != nil {
					t.Fatal(err)
				}
				return filepath.Join(blocker, "job")
			},
			wantKind:   ErrFileOperation,
			wantReason: "create result directory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ecfg := engine.DefaultConfig()
			ecfg.IQTreePath = tt.binary
			if tt.script != "" {
				ecfg.IQTreePath = writeScript(t, t.TempDir(), "iqtree2", tt.script)
			}
			h := newHarness(t, ecfg)
			job := models.AnalysisJob{Category: models.CategoryMaximumLikelihood}
			if tt.resultDir != nil {
				job.ResultDir = tt.resultDir(t)
			}
			submitted := h.submit(t, job)

			err := h.sup.Drain(context.Background())
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("Drain() = %v, want %v", err, tt.wantKind)
			}
			var jobErr *JobError
			if !errors.As(err, &jobErr) || jobErr.JobID != submitted.ID {
				t.Errorf("Drain() error %v is not a JobError for %s", err, submitted.ID)
			}

			got := h.job(t, submitted.ID)
			if got.Status != models.JobFailed {
				t.Fatalf("Status = %s, want failed", got.Status)
			}
			if !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", got.Reason, tt.wantReason)
			}

			var sawError bool
			for _, e := range h.events() {
				if e.Type == EventError && e.JobID == submitted.ID {
					sawError = true
				}
			}
			if !sawError {
				t.Error("no error event emitted")
			}
			if h.sup.Phase() != PhaseIdle {
				t.Errorf("Phase() = %s, want idle", h.sup.Phase())
			}
		})
	}
}

func TestDrain_CrashIncludesStderr(t *testing.T) {
	skipWithoutShell(t)
	ecfg := engine.DefaultConfig()
	ecfg.IQTreePath = writeScript(t, t.TempDir(), "iqtree2", "echo 'ERROR: bad model' >&2\nexit 1\n")
	h := newHarness(t, ecfg)
	job := h.submit(t, models.AnalysisJob{Category: models.CategoryMaximumLikelihood})

	h.sup.Drain(context.Background())

	if got := h.job(t, job.ID); !strings.Contains(got.Reason, "ERROR: bad model") {
		t.Errorf("Reason = %q, want stderr included", got.Reason)
	}
}

func TestDrain_ConsensusFailureKeepsFinished(t *testing.T) {
	skipWithoutShell(t)

	tests := []struct {
		name      string
		script    string
		wantError bool
	}{
		{"missing tree file", "echo done\n", false},
		{"malformed tree file", "echo '((Taxon_A,Taxon_B' > \"$2.treefile\"\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ecfg := engine.DefaultConfig()
			ecfg.IQTreePath = writeScript(t, t.TempDir(), "iqtree2", tt.script)
			h := newHarness(t, ecfg)
			job := h.submit(t, models.AnalysisJob{Category: models.CategoryMaximumLikelihood})

			if err := h.sup.Drain(context.Background()); err != nil {
				t.Fatalf("Drain failed: %v", err)
			}
			if got := h.job(t, job.ID); got.Status != models.JobFinished {
				t.Errorf("Status = %s, want finished", got.Status)
			}
			if ct, _ := h.db.GetConsensusTree(job.ID); ct != nil {
				t.Errorf("consensus tree stored: %q", ct.Newick)
			}
			var sawError bool
			for _, e := range h.events() {
				sawError = sawError || e.Type == EventError
			}
			if sawError != tt.wantError {
				t.Errorf("error event = %v, want %v", sawError, tt.wantError)
			}
		})
	}
}

func TestStop_ForcesKill(t *testing.T) {
	skipWithoutShell(t)
	ecfg := engine.DefaultConfig()
	ecfg.IQTreePath = writeScript(t, t.TempDir(), "iqtree2", "trap '' TERM\necho started\nsleep 30\n")
	h := newHarness(t, ecfg)
	job := h.submit(t, models.AnalysisJob{Category: models.CategoryMaximumLikelihood})

	drained := make(chan error, 1)
	go func() { drained <- h.sup.Drain(context.Background()) }()

	h.waitFor(t, func(e Event) bool {
		return e.Type == EventOutput && strings.Contains(string(e.Data), "started")
	})
	if got := h.job(t, job.ID); got.Status != models.JobRunning {
		t.Fatalf("Status = %s, want running", got.Status)
	}
	if h.sup.Current() != job.ID {
		t.Errorf("Current() = %q, want %q", h.sup.Current(), job.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.sup.Stop(ctx, job.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := <-drained; err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	got := h.job(t, job.ID)
	if got.Status != models.JobStopped || got.FinishTime == nil {
		t.Fatalf("job = %s finish=%v, want stopped with finish time", got.Status, got.FinishTime)
	}
	if got.Reason != ReasonStopped {
		t.Errorf("Reason = %q, want %q", got.Reason, ReasonStopped)
	}

	// A second stop on a stopped job is a no-op.
	if err := h.sup.Stop(ctx, job.ID); err != nil {
		t.Errorf("second Stop() = %v, want nil", err)
	}
}

func TestStop_RequestFromAnotherProcess(t *testing.T) {
	skipWithoutShell(t)
	ecfg := engine.DefaultConfig()
	ecfg.IQTreePath = writeScript(t, t.TempDir(), "iqtree2", "echo started\nsleep 30\n")
	h := newHarness(t, ecfg)
	job := h.submit(t, models.AnalysisJob{Category: models.CategoryMaximumLikelihood})

	drained := make(chan error, 1)
	go func() { drained <- h.sup.Drain(context.Background()) }()

	h.waitFor(t, func(e Event) bool { return e.Type == EventStatus && e.Phase == PhaseRunning })
	ok, err := h.db.RequestStop(job.ID)
	if err != nil || !ok {
		t.Fatalf("RequestStop = %v, %v", ok, err)
	}

	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("stop request was not picked up")
	}
	if got := h.job(t, job.ID); got.Status != models.JobStopped {
		t.Errorf("Status = %s, want stopped", got.Status)
	}
	if requested, _ := h.db.StopRequested(job.ID); requested {
		t.Error("stop request not cleared")
	}
}

func TestStop_NotRunningIsNoop(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())
	job := h.submit(t, models.AnalysisJob{Category: models.CategoryParsimony})

	if err := h.sup.Stop(context.Background(), job.ID); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
	if got := h.job(t, job.ID); got.Status != models.JobReady {
		t.Errorf("Status = %s, want ready", got.Status)
	}
	if err := h.sup.Stop(context.Background(), "missing"); err == nil {
		t.Error("Stop(missing) returned no error")
	}
}

// serialLauncher records whether a process started before the previous
// one had exited.
type serialLauncher struct {
	inner exec.Launcher

	mu      sync.Mutex
	last    exec.Process
	started int
	overlap bool
}

func (l *serialLauncher) Start(ctx context.Context, spec exec.Spec) (exec.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last != nil {
		select {
		case <-l.last.Done():
		default:
			l.overlap = true
		}
	}
	p, err := l.inner.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	l.last = p
	l.started++
	return p, nil
}

func TestDrain_RunsOneJobAtATime(t *testing.T) {
	skipWithoutShell(t)
	ecfg := engine.DefaultConfig()
	ecfg.IQTreePath = writeScript(t, t.TempDir(), "iqtree2", "sleep 0.1\necho done\n")
	launcher := &serialLauncher{inner: exec.NewLauncher()}
	h := newHarness(t, ecfg, WithLauncher(launcher))

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, h.submit(t, models.AnalysisJob{Category: models.CategoryMaximumLikelihood}).ID)
	}

	if err := h.sup.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if launcher.started != 3 || launcher.overlap {
		t.Errorf("started = %d, overlap = %v; want 3 sequential runs", launcher.started, launcher.overlap)
	}
	var running []string
	for _, e := range h.events() {
		if e.Type == EventStatus && e.Phase == PhaseRunning {
			running = append(running, e.JobID)
		}
	}
	if strings.Join(running, ",") != strings.Join(ids, ",") {
		t.Errorf("run order = %v, want %v", running, ids)
	}
	for i, id := range ids {
		got := h.job(t, id)
		if got.Status != models.JobFinished {
			t.Errorf("job %d status = %s", i, got.Status)
		}
		if i > 0 {
			prev := h.job(t, ids[i-1])
			if got.StartTime.Before(*prev.FinishTime) {
				t.Errorf("job %d started before job %d finished", i, i-1)
			}
		}
	}
	if n, _ := h.queue.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

// stuckLauncher never returns from Start until released.
type stuckLauncher struct {
	release chan struct{}
}

func (l *stuckLauncher) Start(ctx context.Context, spec exec.Spec) (exec.Process, error) {
	<-l.release
	return nil, errors.New("released")
}

func TestDrain_StartTimeout(t *testing.T) {
	skipWithoutShell(t)
	ecfg := engine.DefaultConfig()
	ecfg.IQTreePath = writeScript(t, t.TempDir(), "iqtree2", "exit 0\n")
	launcher := &stuckLauncher{release: make(chan struct{})}
	defer close(launcher.release)

	h := newHarness(t, ecfg, WithLauncher(launcher))
	h.sup.cfg.StartTimeout = 50 * time.Millisecond
	job := h.submit(t, models.AnalysisJob{Category: models.CategoryMaximumLikelihood})

	if err := h.sup.Drain(context.Background()); !errors.Is(err, ErrProcessExecution) {
		t.Fatalf("Drain() = %v, want ErrProcessExecution", err)
	}
	if got := h.job(t, job.ID); got.Status != models.JobFailed || !strings.Contains(got.Reason, "not started within") {
		t.Errorf("job = %s (%s)", got.Status, got.Reason)
	}
}

func TestRun_WakesOnReadyAndStopsOnCancel(t *testing.T) {
	skipWithoutShell(t)
	ecfg := engine.DefaultConfig()
	ecfg.IQTreePath = writeScript(t, t.TempDir(), "iqtree2", "echo done\n")
	h := newHarness(t, ecfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	job := h.submit(t, models.AnalysisJob{Category: models.CategoryMaximumLikelihood})
	h.waitFor(t, func(e Event) bool {
		return e.Type == EventStatus && e.JobID == job.ID && e.Status == models.JobFinished
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDrain_RecoversInterruptedJobs(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())
	h.sup.recoverer = state.NewRecoveryManager(h.db)

	job := &models.AnalysisJob{MatrixID: h.matrixID, Category: models.CategoryParsimony, Status: models.JobRunning}
	if err := h.db.CreateJob(job); err != nil {
		t.Fatal(err)
	}
	if _, err := h.db.Exec("UPDATE jobs SET supervisor_pid = ? WHERE id = ?", 999999, job.ID); err != nil {
		t.Fatal(err)
	}

	if err := h.sup.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	got := h.job(t, job.ID)
	if got.Status != models.JobFailed || got.Reason != state.ReasonInterrupted {
		t.Errorf("job = %s (%s), want failed (interrupted)", got.Status, got.Reason)
	}
}

func TestDrain_TwoSupervisorsNeverOverlap(t *testing.T) {
	skipWithoutShell(t)
	ecfg := engine.DefaultConfig()
	ecfg.IQTreePath = writeScript(t, t.TempDir(), "iqtree2", "sleep 0.2\necho done\n")
	launcher := &serialLauncher{inner: exec.NewLauncher()}
	h := newHarness(t, ecfg, WithLauncher(launcher))

	// A second process would open its own handle on the same database.
	db2, err := state.Open(h.db.Path())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db2.Close()
	other := New(db2, queue.New(db2), engine.NewTable(ecfg), h.sup.cfg,
		WithLauncher(launcher), WithRecovery(state.NewRecoveryManager(db2)))
	h.sup.recoverer = state.NewRecoveryManager(h.db)

	var ids []string
	for i := 0; i < 2; i++ {
		ids = append(ids, h.submit(t, models.AnalysisJob{Category: models.CategoryMaximumLikelihood}).ID)
	}

	start := make(chan struct{})
	errs := make(chan error, 2)
	for _, sup := range []*Supervisor{h.sup, other} {
		go func(sup *Supervisor) {
			<-start
			errs <- sup.Drain(context.Background())
		}(sup)
	}
	close(start)

	drained := 0
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			drained++
		case errors.Is(err, ErrSupervisorActive):
		default:
			t.Errorf("Drain() = %v, want nil or ErrSupervisorActive", err)
		}
	}
	if drained == 0 {
		t.Fatal("no supervisor drained the queue")
	}

	if launcher.started != 2 || launcher.overlap {
		t.Errorf("started = %d, overlap = %v; want 2 sequential runs", launcher.started, launcher.overlap)
	}
	for _, id := range ids {
		if got := h.job(t, id); got.Status != models.JobFinished {
			t.Errorf("job %s status = %s, want finished", id, got.Status)
		}
	}
}

func TestDrain_RefusedWhileLeaseHeld(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())
	job := h.submit(t, models.AnalysisJob{Category: models.CategoryParsimony})

	if err := h.db.AcquireLease("another-supervisor"); err != nil {
		t.Fatal(err)
	}
	if err := h.sup.Drain(context.Background()); !errors.Is(err, ErrSupervisorActive) {
		t.Fatalf("Drain() = %v, want ErrSupervisorActive", err)
	}
	if got := h.job(t, job.ID); got.Status != models.JobReady {
		t.Errorf("Status = %s, want ready", got.Status)
	}

	if err := h.db.ReleaseLease("another-supervisor"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.sup.Drain(ctx); errors.Is(err, ErrSupervisorActive) {
		t.Errorf("Drain() after release = %v", err)
	}
}
