package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/internal/tree"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

func parsimonyHandler(cfg Config, goos string) *Handler {
	opts := cfg.Codec
	// TNT reads polymorphisms in square brackets.
	opts.Open, opts.Close = "[", "]"
	inputFile := func(m *matrix.DataMatrix) string { return BaseName(m) + ".tnt" }

	return &Handler{
		Category:     models.CategoryParsimony,
		Binary:       cfg.TNTPath,
		InputDialect: models.DialectTNT,
		Options:      opts,
		InputFile:    inputFile,
		Args: func(job *models.AnalysisJob, m *matrix.DataMatrix) []string {
			return []string{"run", cfg.TNTScript, inputFile(m), ArgSeparator(goos)}
		},
		Scripts: func(job *models.AnalysisJob, m *matrix.DataMatrix) []File {
			return []File{{Name: cfg.TNTScript, Content: TNTScript(job.Parsimony, cfg.TNTTreeFile)}}
		},
		Extractor: func(job *models.AnalysisJob) Extractor { return noProgress{} },
		OutputTree: func(job *models.AnalysisJob, m *matrix.DataMatrix) TreeOutput {
			return TreeOutput{
				File:    cfg.TNTTreeFile,
				Options: tree.Options{TNTIndexBase: cfg.TNTIndexBase},
				// nelsen* appends the strict consensus after the search trees.
				Select: lastTree,
			}
		},
	}
}

// TNTScript is the run file for a parsimony search. The data file arrives
// as the first run argument.
func TNTScript(p models.ParsimonyParams, treeFile string) string {
	replications := p.Replications
	if replications <= 0 {
		replications = 10
	}
	hold := p.HoldTrees
	if hold <= 0 {
		hold = 1000
	}
	var b strings.Builder
	b.WriteString("macro=;\n")
	b.WriteString("mxram 512;\n")
	b.WriteString("proc %1;\n")
	fmt.Fprintf(&b, "hold %d;\n", hold)
	fmt.Fprintf(&b, "mult = replic %d;\n", replications)
	b.WriteString("nelsen*;\n")
	fmt.Fprintf(&b, "tsave *%s;\n", treeFile)
	b.WriteString("save;\n")
	b.WriteString("tsave/;\n")
	b.WriteString("quit;\n")
	return b.String()
}

func likelihoodHandler(cfg Config) *Handler {
	inputFile := func(m *matrix.DataMatrix) string { return BaseName(m) + ".phy" }

	return &Handler{
		Category:     models.CategoryMaximumLikelihood,
		Binary:       cfg.IQTreePath,
		InputDialect: models.DialectPhylip,
		Options:      cfg.Codec,
		InputFile:    inputFile,
		Args: func(job *models.AnalysisJob, m *matrix.DataMatrix) []string {
			return MLArgs(inputFile(m), job.ML)
		},
		Extractor: func(job *models.AnalysisJob) Extractor {
			if job.ML.Bootstrap <= 0 {
				return noProgress{}
			}
			return &regexExtractor{re: mlReplicate, total: job.ML.Bootstrap}
		},
		OutputTree: func(job *models.AnalysisJob, m *matrix.DataMatrix) TreeOutput {
			return TreeOutput{
				File:    inputFile(m) + ".treefile",
				Options: tree.DefaultOptions(),
				Select:  lastTree,
			}
		},
	}
}

// MLArgs is the IQ-TREE argument list.
func MLArgs(dataFile string, p models.MLParams) []string {
	args := []string{"-s", dataFile, "-nt", "AUTO"}
	if p.Morphological {
		args = append(args, "-st", "MORPH")
	}
	if p.Bootstrap > 0 {
		flag := "-b"
		if p.BootstrapType == models.BootstrapFast {
			flag = "-bb"
		}
		args = append(args, flag, strconv.Itoa(p.Bootstrap))
	}
	return args
}

func bayesianHandler(cfg Config) *Handler {
	inputFile := func(m *matrix.DataMatrix) string { return BaseName(m) + ".nex" }
	scriptFile := func(m *matrix.DataMatrix) string { return BaseName(m) + ".mb.nex" }

	return &Handler{
		Category:     models.CategoryBayesian,
		Binary:       cfg.MrBayesPath,
		InputDialect: models.DialectNexus,
		Options:      cfg.Codec,
		InputFile:    inputFile,
		Args: func(job *models.AnalysisJob, m *matrix.DataMatrix) []string {
			return []string{scriptFile(m)}
		},
		Scripts: func(job *models.AnalysisJob, m *matrix.DataMatrix) []File {
			return []File{{Name: scriptFile(m), Content: MrBayesScript(inputFile(m), job.Bayes)}}
		},
		Extractor: func(job *models.AnalysisJob) Extractor {
			if job.Bayes.Generations <= 0 {
				return noProgress{}
			}
			return &regexExtractor{re: bayesGeneration, total: job.Bayes.Generations}
		},
		OutputTree: func(job *models.AnalysisJob, m *matrix.DataMatrix) TreeOutput {
			key := cfg.BayesianTreeKey
			return TreeOutput{
				File:    inputFile(m) + ".con.tre",
				Options: tree.DefaultOptions(),
				Select: func(l *tree.TreeList) (string, error) {
					if s, ok := l.Select(key); ok {
						return s, nil
					}
					// A file holding a single tree is unambiguous.
					if l.Len() == 1 {
						return l.Trees[0], nil
					}
					return "", fmt.Errorf("tree %q: %w", key, ErrTreeNotFound)
				},
			}
		},
	}
}

// MrBayesScript is the command block handed to MrBayes.
func MrBayesScript(dataFile string, p models.BayesParams) string {
	d := models.DefaultBayesParams()
	if p.NST <= 0 {
		p.NST = d.NST
	}
	if p.Rates == "" {
		p.Rates = d.Rates
	}
	if p.Runs <= 0 {
		p.Runs = d.Runs
	}
	if p.Chains <= 0 {
		p.Chains = d.Chains
	}
	if p.Generations <= 0 {
		p.Generations = d.Generations
	}
	if p.SampleFreq <= 0 {
		p.SampleFreq = d.SampleFreq
	}
	if p.BurnIn < 0 {
		p.BurnIn = d.BurnIn
	}

	var b strings.Builder
	b.WriteString("#NEXUS\n\nbegin mrbayes;\n")
	b.WriteString("\tset autoclose=yes nowarn=yes;\n")
	fmt.Fprintf(&b, "\texecute %s;\n", dataFile)
	fmt.Fprintf(&b, "\tlset nst=%d rates=%s;\n", p.NST, p.Rates)
	fmt.Fprintf(&b, "\tmcmc ngen=%d samplefreq=%d nruns=%d nchains=%d;\n", p.Generations, p.SampleFreq, p.Runs, p.Chains)
	fmt.Fprintf(&b, "\tsump burnin=%d;\n", p.BurnIn)
	fmt.Fprintf(&b, "\tsumt burnin=%d;\n", p.BurnIn)
	b.WriteString("\tquit;\nend;\n")
	return b.String()
}
