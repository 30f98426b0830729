package main

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/internal/queue"
	"github.com/ShayCichocki/phylorun/internal/state"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

func TestParseBatch(t *testing.T) {
	data := []byte(`
jobs:
  - matrix: m1
    category: ml
    ml: {bootstrap: 1000, bootstrap_type: fast}
  - matrix: m1
    category: mrbayes
    bayes: {generations: 5000, burn_in: 10}
  - matrix: m2
    category: parsimony
    parsimony: {replications: 50}
`)
	jobs, err := parseBatch(data)
	if err != nil {
		t.Fatalf("parseBatch: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}

	if jobs[0].Category != models.CategoryMaximumLikelihood || jobs[0].ML.Bootstrap != 1000 || jobs[0].ML.BootstrapType != models.BootstrapFast {
		t.Errorf("unexpected ML job %+v", jobs[0])
	}
	if jobs[1].Category != models.CategoryBayesian || jobs[1].Bayes.Generations != 5000 || jobs[1].Bayes.BurnIn != 10 {
		t.Errorf("unexpected Bayesian job %+v", jobs[1])
	}
	if jobs[2].Category != models.CategoryParsimony || jobs[2].MatrixID != "m2" || jobs[2].Parsimony.Replications != 50 {
		t.Errorf("unexpected parsimony job %+v", jobs[2])
	}
}

func TestParseBatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "jobs: []\n", "no jobs"},
		{"missing matrix", "jobs:\n  - category: ml\n", "missing matrix"},
		{"bad category", "jobs:\n  - matrix: m1\n    category: distance\n", "unknown analysis category"},
		{"bad yaml", "jobs: [\n", "parse batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBatch([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("parseBatch() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestJobFromFlags(t *testing.T) {
	defer func() {
		submitCategory, submitBootstrap, submitFast, submitMorph = "", 0, false, false
	}()

	submitCategory = "iqtree"
	submitBootstrap = 1000
	submitFast = true
	submitMorph = true

	j, err := jobFromFlags("m1")
	if err != nil {
		t.Fatalf("jobFromFlags: %v", err)
	}
	if j.MatrixID != "m1" || j.Category != models.CategoryMaximumLikelihood {
		t.Errorf("unexpected job %+v", j)
	}
	if j.ML.Bootstrap != 1000 || j.ML.BootstrapType != models.BootstrapFast || !j.ML.Morphological {
		t.Errorf("unexpected ML params %+v", j.ML)
	}

	submitCategory = "distance"
	if _, err := jobFromFlags("m1"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestSubmitJob(t *testing.T) {
	db, err := state.OpenDataDir(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	m := matrix.New("beetles")
	for _, name := range []string{"A", "B", "C"} {
		if err := m.AddTaxon(name); err != nil {
			t.Fatal(err)
		}
	}
	m.AddCharacter("")
	rec, err := state.NewMatrixRecord(m, models.DialectNexus)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.CreateMatrix(rec); err != nil {
		t.Fatal(err)
	}

	q := queue.New(db)

	j := &models.AnalysisJob{MatrixID: rec.ID, Category: models.CategoryParsimony}
	if err := submitJob(db, q, j); err != nil {
		t.Fatalf("submitJob: %v", err)
	}
	got, err := db.GetJob(j.ID)
	if err != nil || got == nil {
		t.Fatalf("GetJob: %v %v", got, err)
	}
	if got.Status != models.JobReady {
		t.Errorf("expected ready, got %s", got.Status)
	}

	missing := &models.AnalysisJob{MatrixID: "nope", Category: models.CategoryParsimony}
	if err := submitJob(db, q, missing); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}
