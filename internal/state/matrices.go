package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/phylorun/internal/format"
	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// MatrixRecord is a stored data matrix. The matrix itself is kept as NEXUS
// text, which decodes back to an equal matrix.
type MatrixRecord struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	SourceDialect models.Dialect `json:"source_dialect"`
	NTaxa         int            `json:"ntax"`
	NChars        int            `json:"nchar"`
	Nexus         string         `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewMatrixRecord encodes m for storage under a fresh ID.
func NewMatrixRecord(m *matrix.DataMatrix, source models.Dialect) (*MatrixRecord, error) {
	now := time.Now()
	r := &MatrixRecord{
		ID:            uuid.New().String()[:8],
		SourceDialect: source,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.SetMatrix(m); err != nil {
		return nil, err
	}
	return r, nil
}

// SetMatrix replaces the stored matrix.
func (r *MatrixRecord) SetMatrix(m *matrix.DataMatrix) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("store matrix: %w", err)
	}
	text, err := format.EncodeString(m, models.DialectNexus, format.DefaultOptions())
	if err != nil {
		return fmt.Errorf("encode matrix: %w", err)
	}
	r.Name = m.Name
	r.NTaxa, r.NChars = m.NTaxa, m.NChars
	r.Nexus = text
	return nil
}

// Matrix decodes the stored matrix.
func (r *MatrixRecord) Matrix() (*matrix.DataMatrix, error) {
	m, err := format.Decode(strings.NewReader(r.Nexus), models.DialectNexus, format.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("decode stored matrix %s: %w", r.ID, err)
	}
	m.Name = r.Name
	return m, nil
}

// CreateMatrix stores a new matrix.
func (db *DB) CreateMatrix(r *MatrixRecord) error {
	_, err := db.Exec(`
		INSERT INTO matrices (id, name, source_dialect, ntax, nchar, nexus, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, string(r.SourceDialect), r.NTaxa, r.NChars, r.Nexus, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create matrix: %w", err)
	}
	return nil
}

// GetMatrix retrieves a matrix by ID. It returns nil when none exists.
func (db *DB) GetMatrix(id string) (*MatrixRecord, error) {
	row := db.QueryRow(`
		SELECT id, name, source_dialect, ntax, nchar, nexus, created_at, updated_at
		FROM matrices WHERE id = ?
	`, id)

	r, err := scanMatrix(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get matrix: %w", err)
	}
	return r, nil
}

// UpdateMatrix rewrites the stored matrix and bumps UpdatedAt.
func (db *DB) UpdateMatrix(r *MatrixRecord) error {
	r.UpdatedAt = time.Now()
	_, err := db.Exec(`
		UPDATE matrices SET name = ?, ntax = ?, nchar = ?, nexus = ?, updated_at = ?
		WHERE id = ?
	`, r.Name, r.NTaxa, r.NChars, r.Nexus, formatTime(r.UpdatedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update matrix: %w", err)
	}
	return nil
}

// ListMatrices lists all matrices, oldest first.
func (db *DB) ListMatrices() ([]MatrixRecord, error) {
	rows, err := db.Query(`
		SELECT id, name, source_dialect, ntax, nchar, nexus, created_at, updated_at
		FROM matrices ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list matrices: %w", err)
	}
	defer rows.Close()

	var out []MatrixRecord
	for rows.Next() {
		r, err := scanMatrix(rows)
		if err != nil {
			return nil, fmt.Errorf("scan matrix: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DeleteMatrix deletes a matrix with its jobs and their trees.
// It refuses while one of the matrix's jobs is running.
func (db *DB) DeleteMatrix(id string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		var running int
		err := tx.QueryRow(`SELECT COUNT(*) FROM jobs WHERE matrix_id = ? AND status = ?`,
			id, string(models.JobRunning)).Scan(&running)
		if err != nil {
			return fmt.Errorf("delete matrix: %w", err)
		}
		if running > 0 {
			return fmt.Errorf("delete matrix %s: %w", id, ErrMatrixBusy)
		}
		if _, err := tx.Exec("DELETE FROM matrices WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete matrix: %w", err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMatrix(s scanner) (*MatrixRecord, error) {
	var r MatrixRecord
	var dialect, createdAt, updatedAt string
	if err := s.Scan(&r.ID, &r.Name, &dialect, &r.NTaxa, &r.NChars, &r.Nexus, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.SourceDialect = models.Dialect(dialect)
	r.CreatedAt, _ = parseTime(createdAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	return &r, nil
}
