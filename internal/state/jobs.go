package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/phylorun/pkg/models"
)

// jobParams is the JSON stored in the params column.
type jobParams struct {
	ML        models.MLParams        `json:"ml"`
	Bayes     models.BayesParams     `json:"bayes"`
	Parsimony models.ParsimonyParams `json:"parsimony"`
}

const jobColumns = `id, matrix_id, category, status, percentage, result_dir, reason, params,
	created_at, start_time, finish_time`

// NewJobID returns a short random job identifier.
func NewJobID() string {
	return uuid.New().String()[:8]
}

// CreateJob stores a new job. An empty ID is filled in.
func (db *DB) CreateJob(j *models.AnalysisJob) error {
	if j.ID == "" {
		j.ID = NewJobID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	params, err := json.Marshal(jobParams{ML: j.ML, Bayes: j.Bayes, Parsimony: j.Parsimony})
	if err != nil {
		return fmt.Errorf("marshal job params: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO jobs (id, matrix_id, category, status, percentage, result_dir, reason, params,
			created_at, start_time, finish_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.MatrixID, string(j.Category), string(j.Status), j.Percentage, j.ResultDir, j.Reason,
		string(params), formatTime(j.CreatedAt), nullableTime(j.StartTime), nullableTime(j.FinishTime))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID. It returns nil when none exists.
func (db *DB) GetJob(id string) (*models.AnalysisJob, error) {
	row := db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJob writes status, progress, reason, times and parameters.
// Moving to Running records this process as the owning supervisor; any
// other status clears it together with a pending stop request.
func (db *DB) UpdateJob(j *models.AnalysisJob) error {
	params, err := json.Marshal(jobParams{ML: j.ML, Bayes: j.Bayes, Parsimony: j.Parsimony})
	if err != nil {
		return fmt.Errorf("marshal job params: %w", err)
	}
	owner := 0
	if j.Status == models.JobRunning {
		owner = os.Getpid()
	}

	_, err = db.Exec(`
		UPDATE jobs SET status = ?, percentage = ?, result_dir = ?, reason = ?, params = ?,
			start_time = ?, finish_time = ?, supervisor_pid = ?,
			stop_requested = CASE WHEN ? = 'running' THEN stop_requested ELSE 0 END
		WHERE id = ?
	`, string(j.Status), j.Percentage, j.ResultDir, j.Reason, string(params),
		nullableTime(j.StartTime), nullableTime(j.FinishTime), owner, string(j.Status), j.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ClaimJob atomically moves a Ready job to Running, recording this process
// as its supervisor. Only one caller can win the claim for a job.
func (db *DB) ClaimJob(id string, at time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE jobs SET status = ?, supervisor_pid = ?, start_time = ?, finish_time = NULL,
			reason = '', stop_requested = 0
		WHERE id = ? AND status = ?
	`, string(models.JobRunning), os.Getpid(), formatTime(at), id, string(models.JobReady))
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateProgress persists a completion percentage. It never lowers the
// stored value.
func (db *DB) UpdateProgress(id string, percentage float64) error {
	_, err := db.Exec(`UPDATE jobs SET percentage = MAX(percentage, ?) WHERE id = ?`, percentage, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ListJobs lists all jobs in queue order.
func (db *DB) ListJobs() ([]models.AnalysisJob, error) {
	return db.listJobs(`SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
}

// ListJobsByStatus lists jobs with the given status in queue order:
// oldest creation time first, ties broken by ID.
func (db *DB) ListJobsByStatus(status models.JobStatus) ([]models.AnalysisJob, error) {
	return db.listJobs(`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at, id`, string(status))
}

// ListJobsByMatrix lists the jobs of one matrix in queue order.
func (db *DB) ListJobsByMatrix(matrixID string) ([]models.AnalysisJob, error) {
	return db.listJobs(`SELECT `+jobColumns+` FROM jobs WHERE matrix_id = ? ORDER BY created_at, id`, matrixID)
}

func (db *DB) listJobs(query string, args ...any) ([]models.AnalysisJob, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.AnalysisJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// DeleteJob deletes a job and its consensus tree. Running jobs are refused.
func (db *DB) DeleteJob(id string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		if models.JobStatus(status) == models.JobRunning {
			return fmt.Errorf("delete job %s: %w", id, ErrJobRunning)
		}
		if _, err := tx.Exec("DELETE FROM jobs WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		return nil
	})
}

// RequestStop flags a running job for the supervisor to stop. It reports
// false, without error, when the job is not running.
func (db *DB) RequestStop(id string) (bool, error) {
	res, err := db.Exec(`UPDATE jobs SET stop_requested = 1 WHERE id = ? AND status = ?`, id, string(models.JobRunning))
	if err != nil {
		return false, fmt.Errorf("request stop: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// StopRequested reports whether a stop request is pending for the job.
func (db *DB) StopRequested(id string) (bool, error) {
	var flag int
	err := db.QueryRow(`SELECT stop_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read stop request: %w", err)
	}
	return flag != 0, nil
}

// ClearStop drops a pending stop request.
func (db *DB) ClearStop(id string) error {
	if _, err := db.Exec(`UPDATE jobs SET stop_requested = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("clear stop request: %w", err)
	}
	return nil
}

func scanJob(s scanner) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	var category, status, params, createdAt string
	var startTime, finishTime sql.NullString
	err := s.Scan(&j.ID, &j.MatrixID, &category, &status, &j.Percentage, &j.ResultDir, &j.Reason, &params,
		&createdAt, &startTime, &finishTime)
	if err != nil {
		return nil, err
	}
	j.Category = models.Category(category)
	j.Status = models.JobStatus(status)
	j.CreatedAt, _ = parseTime(createdAt)
	j.StartTime = parseNullableTime(startTime)
	j.FinishTime = parseNullableTime(finishTime)

	var p jobParams
	if err := json.Unmarshal([]byte(params), &p); err != nil {
		return nil, fmt.Errorf("unmarshal params of job %s: %w", j.ID, err)
	}
	j.ML, j.Bayes, j.Parsimony = p.ML, p.Bayes, p.Parsimony
	return &j, nil
}
