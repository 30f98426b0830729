package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/phylorun/internal/queue"
	"github.com/ShayCichocki/phylorun/internal/state"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

var (
	submitCategory  string
	submitBatch     string
	submitResultDir string

	submitBootstrap int
	submitFast      bool
	submitMorph     bool

	submitNST         int
	submitRates       string
	submitRuns        int
	submitChains      int
	submitGenerations int
	submitSampleFreq  int
	submitBurnIn      int

	submitReplications int
	submitHold         int
)

var submitCmd = &cobra.Command{
	Use:   "submit [matrix]",
	Short: "Queue an analysis job",
	Long: `Queue an analysis of a stored matrix.

The job becomes ready immediately and is picked up by 'phylorun run'.

Examples:
  phylorun submit 1a2b3c4d --category parsimony --replications 50
  phylorun submit 1a2b3c4d --category ml --bootstrap 1000 --fast
  phylorun submit 1a2b3c4d --category bayesian --generations 2000000
  phylorun submit --batch jobs.yaml

A batch file lists jobs:

  jobs:
    - matrix: 1a2b3c4d
      category: ml
      ml: {bootstrap: 1000, bootstrap_type: fast}
    - matrix: 1a2b3c4d
      category: bayesian
      bayes: {generations: 500000}`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringVarP(&submitCategory, "category", "c", "", "Analysis category: parsimony, ml, bayesian")
	f.StringVar(&submitBatch, "batch", "", "YAML file of jobs to submit")
	f.StringVar(&submitResultDir, "result-dir", "", "Result directory (default: <data_dir>/results/<job>)")

	f.IntVar(&submitBootstrap, "bootstrap", 0, "ML: bootstrap replicates (0 disables)")
	f.BoolVar(&submitFast, "fast", false, "ML: ultrafast bootstrap (-bb)")
	f.BoolVar(&submitMorph, "morph", false, "ML: morphological model (-st MORPH)")

	f.IntVar(&submitNST, "nst", 0, "Bayesian: substitution types")
	f.StringVar(&submitRates, "rates", "", "Bayesian: rate variation")
	f.IntVar(&submitRuns, "runs", 0, "Bayesian: independent runs")
	f.IntVar(&submitChains, "chains", 0, "Bayesian: chains per run")
	f.IntVar(&submitGenerations, "generations", 0, "Bayesian: MCMC generations")
	f.IntVar(&submitSampleFreq, "samplefreq", 0, "Bayesian: sample frequency")
	f.IntVar(&submitBurnIn, "burnin", 0, "Bayesian: burn-in samples")

	f.IntVar(&submitReplications, "replications", 0, "Parsimony: random addition sequences")
	f.IntVar(&submitHold, "hold", 0, "Parsimony: tree buffer size")
}

// batchFile is the --batch document.
type batchFile struct {
	Jobs []batchJob `yaml:"jobs"`
}

type batchJob struct {
	Matrix    string                 `yaml:"matrix"`
	Category  string                 `yaml:"category"`
	ResultDir string                 `yaml:"result_dir"`
	ML        models.MLParams        `yaml:"ml"`
	Bayes     models.BayesParams     `yaml:"bayes"`
	Parsimony models.ParsimonyParams `yaml:"parsimony"`
}

// parseBatch decodes and checks a batch document.
func parseBatch(data []byte) ([]*models.AnalysisJob, error) {
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}
	if len(bf.Jobs) == 0 {
		return nil, errors.New("parse batch: no jobs")
	}

	jobs := make([]*models.AnalysisJob, 0, len(bf.Jobs))
	for i, bj := range bf.Jobs {
		if bj.Matrix == "" {
			return nil, fmt.Errorf("parse batch: job %d: missing matrix", i+1)
		}
		cat, err := models.ParseCategory(bj.Category)
		if err != nil {
			return nil, fmt.Errorf("parse batch: job %d: %w", i+1, err)
		}
		jobs = append(jobs, &models.AnalysisJob{
			MatrixID:  bj.Matrix,
			Category:  cat,
			ResultDir: bj.ResultDir,
			ML:        bj.ML,
			Bayes:     bj.Bayes,
			Parsimony: bj.Parsimony,
		})
	}
	return jobs, nil
}

// jobFromFlags builds a job from the command line flags.
func jobFromFlags(matrixID string) (*models.AnalysisJob, error) {
	cat, err := models.ParseCategory(submitCategory)
	if err != nil {
		return nil, err
	}
	j := &models.AnalysisJob{
		MatrixID:  matrixID,
		Category:  cat,
		ResultDir: submitResultDir,
		ML: models.MLParams{
			Bootstrap:     submitBootstrap,
			BootstrapType: models.BootstrapNormal,
			Morphological: submitMorph,
		},
		Bayes: models.BayesParams{
			NST:         submitNST,
			Rates:       submitRates,
			Runs:        submitRuns,
			Chains:      submitChains,
			Generations: submitGenerations,
			SampleFreq:  submitSampleFreq,
			BurnIn:      submitBurnIn,
		},
		Parsimony: models.ParsimonyParams{
			Replications: submitReplications,
			HoldTrees:    submitHold,
		},
	}
	if submitFast {
		j.ML.BootstrapType = models.BootstrapFast
	}
	return j, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var jobs []*models.AnalysisJob
	switch {
	case submitBatch != "" && len(args) > 0:
		return errors.New("use either a matrix argument or --batch, not both")
	case submitBatch != "":
		data, err := os.ReadFile(submitBatch)
		if err != nil {
			return fmt.Errorf("read batch: %w", err)
		}
		if jobs, err = parseBatch(data); err != nil {
			return err
		}
	case len(args) == 1:
		j, err := jobFromFlags(args[0])
		if err != nil {
			return err
		}
		jobs = append(jobs, j)
	default:
		return errors.New("a matrix ID or --batch is required")
	}

	cfg, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	q := queue.New(db)
	submitted := 0
	for _, j := range jobs {
		if err := submitJob(db, q, j); err != nil {
			printStatus("✗", err.Error(), color.FgRed)
			continue
		}
		submitted++
		printStatus("✓", fmt.Sprintf("Queued %s job %s on matrix %s", j.Category, j.ID, j.MatrixID), color.FgGreen)
	}

	if submitted > 0 {
		if err := queue.SendSubmit(cfg.DataDir); err != nil {
			log.Printf("[submit] could not signal a running supervisor: %v", err)
		}
	}
	if submitted < len(jobs) {
		return fmt.Errorf("%d of %d jobs not submitted", len(jobs)-submitted, len(jobs))
	}
	return nil
}

// submitJob enqueues j and marks it ready; the matrix is the job's input data.
func submitJob(db *state.DB, q *queue.Queue, j *models.AnalysisJob) error {
	rec, err := db.GetMatrix(j.MatrixID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("matrix %s not found", j.MatrixID)
	}
	if err := q.Enqueue(j); err != nil {
		return err
	}
	return q.MarkReady(j.ID)
}
