package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/phylorun/pkg/models"
)

// CreateConsensusTree stores the consensus tree of a job. A job has at most
// one; a second insert fails.
func (db *DB) CreateConsensusTree(t *models.ConsensusTree) error {
	if t.ID == "" {
		t.ID = uuid.New().String()[:8]
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Type == "" {
		t.Type = models.TreeConsensus
	}
	_, err := db.Exec(`
		INSERT INTO consensus_trees (id, job_id, type, newick, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.JobID, string(t.Type), t.Newick, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("create consensus tree: %w", err)
	}
	return nil
}

// GetConsensusTree returns the consensus tree of a job, or nil.
func (db *DB) GetConsensusTree(jobID string) (*models.ConsensusTree, error) {
	row := db.QueryRow(`
		SELECT id, job_id, type, newick, created_at FROM consensus_trees WHERE job_id = ?
	`, jobID)

	var t models.ConsensusTree
	var typ, createdAt string
	err := row.Scan(&t.ID, &t.JobID, &typ, &t.Newick, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consensus tree: %w", err)
	}
	t.Type = models.TreeType(typ)
	t.CreatedAt, _ = parseTime(createdAt)
	return &t, nil
}
