// Package engine maps each analysis category to the external program that
// runs it: binary, input files, arguments, progress extraction and the
// location of the resulting tree.
package engine

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/ShayCichocki/phylorun/internal/format"
	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/internal/tree"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// ErrTreeNotFound is returned when an output file lacks the expected tree.
var ErrTreeNotFound = errors.New("consensus tree not found in output")

// Config carries the engine settings.
type Config struct {
	TNTPath   string
	TNTScript string
	// TNTTreeFile is the file the parsimony script saves trees to.
	TNTTreeFile string
	// TNTIndexBase is the first taxon number in TNT tree dumps.
	TNTIndexBase int

	IQTreePath  string
	MrBayesPath string
	// BayesianTreeKey names the tree block taken from the MrBayes .con.tre file.
	BayesianTreeKey string

	// Codec holds the user's token settings, used for every input file.
	Codec format.Options
	// GOOS selects the TNT argument separator; empty means runtime.GOOS.
	GOOS string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TNTPath:         "tnt",
		TNTScript:       "phylorun.run",
		TNTTreeFile:     "phylorun_trees.tre",
		TNTIndexBase:    0,
		IQTreePath:      "iqtree2",
		MrBayesPath:     "mb",
		BayesianTreeKey: "con_50_majrule",
		Codec:           format.DefaultOptions(),
	}
}

// File is a file the supervisor writes into the result directory.
type File struct {
	Name    string
	Content string
}

// TreeOutput tells the consensus builder where the engine leaves its tree.
type TreeOutput struct {
	// File is relative to the result directory.
	File string
	// Options is passed to the tree decoder.
	Options tree.Options
	// Select picks the consensus tree out of the decoded file.
	Select func(l *tree.TreeList) (string, error)
}

// Handler is everything the supervisor needs to run one category.
type Handler struct {
	Category     models.Category
	Binary       string
	InputDialect models.Dialect
	// Options are the codec settings used for the input data file.
	Options format.Options

	// InputFile names the data file for a matrix.
	InputFile func(m *matrix.DataMatrix) string
	// Args builds the argument list; the process runs in the result directory.
	Args func(job *models.AnalysisJob, m *matrix.DataMatrix) []string
	// Scripts returns command files beyond the data file.
	Scripts func(job *models.AnalysisJob, m *matrix.DataMatrix) []File
	// Extractor returns the progress extractor for one run.
	Extractor func(job *models.AnalysisJob) Extractor
	// OutputTree locates the resulting tree.
	OutputTree func(job *models.AnalysisJob, m *matrix.DataMatrix) TreeOutput
}

// Inputs renders the data file and any scripts for job.
func (h *Handler) Inputs(job *models.AnalysisJob, m *matrix.DataMatrix) ([]File, error) {
	data, err := format.EncodeString(m, h.InputDialect, h.Options)
	if err != nil {
		return nil, fmt.Errorf("encode %s input: %w", h.InputDialect, err)
	}
	files := []File{{Name: h.InputFile(m), Content: data}}
	if h.Scripts != nil {
		files = append(files, h.Scripts(job, m)...)
	}
	return files, nil
}

// Table resolves categories to handlers.
type Table struct {
	handlers map[models.Category]*Handler
}

// NewTable builds the handler table from cfg.
func NewTable(cfg Config) *Table {
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return &Table{handlers: map[models.Category]*Handler{
		models.CategoryParsimony:         parsimonyHandler(cfg, goos),
		models.CategoryMaximumLikelihood: likelihoodHandler(cfg),
		models.CategoryBayesian:          bayesianHandler(cfg),
	}}
}

// For returns the handler of category c.
func (t *Table) For(c models.Category) (*Handler, error) {
	h, ok := t.handlers[c]
	if !ok {
		return nil, fmt.Errorf("no engine for category %q", c)
	}
	return h, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.\-]+`)

// BaseName turns a matrix name into a safe file stem.
func BaseName(m *matrix.DataMatrix) string {
	name := strings.Trim(unsafeName.ReplaceAllString(m.Name, "_"), "_.")
	if name == "" {
		return "matrix"
	}
	return name
}

// ArgSeparator is the token TNT uses between command-line commands.
func ArgSeparator(goos string) string {
	if goos == "windows" {
		return ","
	}
	return ";"
}

func lastTree(l *tree.TreeList) (string, error) {
	if s, ok := l.Last(); ok {
		return s, nil
	}
	return "", ErrTreeNotFound
}
