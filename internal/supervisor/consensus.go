package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/phylorun/internal/engine"
	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/internal/state"
	"github.com/ShayCichocki/phylorun/internal/tree"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// ConsensusBuilder turns an engine's output tree file into a stored
// canonical consensus tree.
type ConsensusBuilder struct {
	trees state.TreeStore
}

// NewConsensusBuilder creates a builder saving into trees.
func NewConsensusBuilder(trees state.TreeStore) *ConsensusBuilder {
	return &ConsensusBuilder{trees: trees}
}

// Build locates, decodes, remaps and stores the consensus tree of a
// finished job. A missing output file is not an error: it returns nil, nil.
func (b *ConsensusBuilder) Build(job *models.AnalysisJob, m *matrix.DataMatrix, out engine.TreeOutput) (*models.ConsensusTree, error) {
	path := filepath.Join(job.ResultDir, out.File)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Printf("[consensus] job %s: %s not found, skipping", job.ID, out.File)
		return nil, nil
	}

	list, _, err := tree.DecodeFile(path, out.Options)
	if err != nil {
		return nil, fmt.Errorf("decode output tree: %w", err)
	}
	raw, err := out.Select(list)
	if err != nil {
		return nil, fmt.Errorf("select consensus tree: %w", err)
	}

	t, err := tree.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse consensus tree: %w", err)
	}
	if unmapped := tree.RemapLeaves(t, m.Taxa); len(unmapped) > 0 {
		log.Printf("[consensus] job %s: leaves %v are outside the %d taxa, kept as is", job.ID, unmapped, len(m.Taxa))
	}
	tree.RenameLeaves(t, exportedNames(m.Taxa))

	ct := &models.ConsensusTree{
		JobID:  job.ID,
		Type:   models.TreeConsensus,
		Newick: t.Newick(),
	}
	if err := b.trees.CreateConsensusTree(ct); err != nil {
		return nil, err
	}
	return ct, nil
}

// exportedNames maps names as written to unquoted input files back to
// the taxon names they came from.
func exportedNames(taxa []string) map[string]string {
	names := make(map[string]string)
	for _, name := range taxa {
		if plain := strings.Join(strings.Fields(name), "_"); plain != name {
			names[plain] = name
		}
	}
	return names
}
