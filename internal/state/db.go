// Package state provides SQLite-based persistence for phylorun: data
// matrices, analysis jobs and the consensus trees they produce.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrMatrixBusy is returned when deleting a matrix that has a running job.
	ErrMatrixBusy = errors.New("matrix has a running job")
	// ErrJobRunning is returned when deleting a running job.
	ErrJobRunning = errors.New("job is running")
)

// DB wraps an SQLite database connection with phylorun-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDataDir returns the XDG data directory for phylorun.
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "phylorun")
}

// DBPath returns the database location inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "phylorun.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// Foreign keys are enforced on every pooled connection, and a busy timeout
// lets the CLI and a running supervisor share the file.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenDataDir opens (and migrates) the database inside dataDir.
func OpenDataDir(dataDir string) (*DB, error) {
	db, err := Open(DBPath(dataDir))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Matrices},
		{2, migrationV2Jobs},
		{3, migrationV3ConsensusTrees},
		{4, migrationV4SupervisorLease},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Matrices = `
CREATE TABLE IF NOT EXISTS matrices (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	source_dialect TEXT NOT NULL,
	ntax INTEGER NOT NULL,
	nchar INTEGER NOT NULL,
	nexus TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_matrices_name ON matrices(name);
`

const migrationV2Jobs = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	matrix_id TEXT NOT NULL REFERENCES matrices(id) ON DELETE CASCADE,
	category TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	percentage REAL NOT NULL DEFAULT 0,
	result_dir TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	params TEXT NOT NULL DEFAULT '{}',
	supervisor_pid INTEGER NOT NULL DEFAULT 0,
	stop_requested INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	start_time DATETIME,
	finish_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at, id);
CREATE INDEX IF NOT EXISTS idx_jobs_matrix_id ON jobs(matrix_id);
`

const migrationV3ConsensusTrees = `
CREATE TABLE IF NOT EXISTS consensus_trees (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL UNIQUE REFERENCES jobs(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	newick TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

// supervisor_lease holds at most one row: the supervisor allowed to run
// engines against this database.
const migrationV4SupervisorLease = `
CREATE TABLE IF NOT EXISTS supervisor_lease (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	owner TEXT NOT NULL,
	pid INTEGER NOT NULL,
	acquired_at DATETIME NOT NULL
);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout has fixed-width fractional seconds so stored values sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// PurgeFinishedJobs deletes terminal jobs that finished before the cutoff,
// together with their consensus trees. Returns the number of jobs deleted.
func (db *DB) PurgeFinishedJobs(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec(`
		DELETE FROM jobs
		WHERE status IN ('finished', 'failed', 'stopped')
		AND COALESCE(finish_time, created_at) < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return count, nil
}
