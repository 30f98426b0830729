package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/internal/state"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

func setupQueue(t *testing.T) (*Queue, *state.DB, string) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := matrix.New("m")
	m.AddTaxon("a")
	m.AddCharacter("")
	rec, err := state.NewMatrixRecord(m, models.DialectNexus)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.CreateMatrix(rec); err != nil {
		t.Fatal(err)
	}
	return New(db), db, rec.ID
}

func enqueueAt(t *testing.T, q *Queue, matrixID, id string, at time.Time) {
	t.Helper()
	j := &models.AnalysisJob{ID: id, MatrixID: matrixID, Category: models.CategoryParsimony, ResultDir: t.TempDir(), CreatedAt: at}
	if err := q.Enqueue(j); err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", id, err)
	}
}

func TestEnqueue_StartsQueued(t *testing.T) {
	q, db, mid := setupQueue(t)
	enqueueAt(t, q, mid, "j1", time.Now())

	j, _ := db.GetJob("j1")
	if j.Status != models.JobQueued {
		t.Errorf("status = %s, want queued", j.Status)
	}
	next, err := q.NextReady()
	if err != nil || next != nil {
		t.Errorf("NextReady() = %v, %v; want nil, nil", next, err)
	}
}

func TestEnqueue_RejectsUnknownCategory(t *testing.T) {
	q, _, mid := setupQueue(t)
	err := q.Enqueue(&models.AnalysisJob{MatrixID: mid, Category: "neighbour-joining"})
	if err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestMarkReady(t *testing.T) {
	q, _, mid := setupQueue(t)
	enqueueAt(t, q, mid, "j1", time.Now())

	if err := q.MarkReady("j1"); err != nil {
		t.Fatalf("MarkReady failed: %v", err)
	}
	select {
	case <-q.Wake():
	default:
		t.Error("MarkReady did not signal Wake")
	}

	if err := q.MarkReady("j1"); err == nil {
		t.Error("MarkReady on a ready job should fail")
	}
	if err := q.MarkReady("missing"); err == nil {
		t.Error("MarkReady on a missing job should fail")
	}
}

func TestNextReady_OrderAndIdempotence(t *testing.T) {
	q, db, mid := setupQueue(t)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	enqueueAt(t, q, mid, "late", base.Add(time.Minute))
	enqueueAt(t, q, mid, "b", base)
	enqueueAt(t, q, mid, "a", base)
	enqueueAt(t, q, mid, "never", base.Add(-time.Hour))
	for _, id := range []string{"late", "b", "a"} {
		if err := q.MarkReady(id); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 2; i++ {
		next, err := q.NextReady()
		if err != nil {
			t.Fatalf("NextReady failed: %v", err)
		}
		if next == nil || next.ID != "a" {
			t.Fatalf("NextReady() call %d = %v, want a", i, next)
		}
	}

	// Taking a job out of Ready advances the queue.
	j, _ := db.GetJob("a")
	j.Status = models.JobRunning
	db.UpdateJob(j)
	if next, _ := q.NextReady(); next == nil || next.ID != "b" {
		t.Errorf("NextReady() = %v, want b", next)
	}
	if n, _ := q.Pending(); n != 2 {
		t.Errorf("Pending() = %d, want 2", n)
	}
}

func TestClaim_OnlyOneWinner(t *testing.T) {
	q, db, mid := setupQueue(t)
	enqueueAt(t, q, mid, "j1", time.Now())
	if err := q.MarkReady("j1"); err != nil {
		t.Fatal(err)
	}

	// Two supervisors read the same head of the queue.
	first, _ := q.NextReady()
	second, _ := q.NextReady()
	if first == nil || second == nil || first.ID != second.ID {
		t.Fatalf("NextReady() = %v, %v; want the same job twice", first, second)
	}

	ok, err := q.Claim(first)
	if err != nil || !ok {
		t.Fatalf("first Claim() = %v, %v; want true, nil", ok, err)
	}
	if first.Status != models.JobRunning || first.StartTime == nil {
		t.Errorf("claimed job = %s start=%v, want running with start time", first.Status, first.StartTime)
	}
	ok, err = q.Claim(second)
	if err != nil || ok {
		t.Errorf("second Claim() = %v, %v; want false, nil", ok, err)
	}
	if second.Status != models.JobReady {
		t.Errorf("losing claim changed status to %s", second.Status)
	}

	got, _ := db.GetJob("j1")
	if got.Status != models.JobRunning {
		t.Errorf("stored status = %s, want running", got.Status)
	}
	if next, _ := q.NextReady(); next != nil {
		t.Errorf("NextReady() after claim = %v, want nil", next)
	}
}

func TestNotify_NeverBlocks(t *testing.T) {
	q := New(nil)
	for i := 0; i < 5; i++ {
		q.Notify()
	}
	select {
	case <-q.Wake():
	default:
		t.Fatal("expected a pending wake-up")
	}
	select {
	case <-q.Wake():
		t.Fatal("wake-ups should coalesce")
	default:
	}
}
