package state

import (
	"errors"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/ShayCichocki/phylorun/pkg/models"
)

// ErrSupervisorActive is returned by Clean when another live supervisor
// process still owns a running job.
var ErrSupervisorActive = errors.New("another supervisor is running")

// ReasonInterrupted is the terminal reason recorded for jobs whose
// supervisor exited while they were running.
const ReasonInterrupted = "interrupted"

// InterruptedJob is a job left in the running state at startup.
type InterruptedJob struct {
	JobID     string
	StartTime *time.Time
	// SupervisorPID is the process that marked the job running.
	SupervisorPID int
	// Alive reports whether that process still exists.
	Alive bool
}

// RecoveryManager detects and cleans up jobs left running by a supervisor
// that crashed or was killed.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// CheckForInterrupted lists running jobs not owned by this process.
func (rm *RecoveryManager) CheckForInterrupted() ([]InterruptedJob, error) {
	rows, err := rm.db.Query(`SELECT id, supervisor_pid, start_time FROM jobs WHERE status = ? ORDER BY created_at, id`,
		string(models.JobRunning))
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	defer rows.Close()

	self := os.Getpid()
	var out []InterruptedJob
	for rows.Next() {
		var ij InterruptedJob
		var start *string
		if err := rows.Scan(&ij.JobID, &ij.SupervisorPID, &start); err != nil {
			return nil, fmt.Errorf("scan running job: %w", err)
		}
		if ij.SupervisorPID == self {
			continue
		}
		if start != nil {
			if t, err := parseTime(*start); err == nil {
				ij.StartTime = &t
			}
		}
		ij.Alive = isProcessAlive(ij.SupervisorPID)
		out = append(out, ij)
	}
	return out, rows.Err()
}

// Clean marks every orphaned running job Failed with ReasonInterrupted.
// If a live supervisor owns a running job nothing is changed and
// ErrSupervisorActive is returned, so two supervisors never run engines
// at the same time.
func (rm *RecoveryManager) Clean() ([]string, error) {
	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		return nil, err
	}
	for _, ij := range interrupted {
		if ij.Alive {
			return nil, fmt.Errorf("job %s owned by pid %d: %w", ij.JobID, ij.SupervisorPID, ErrSupervisorActive)
		}
	}

	var cleaned []string
	for _, ij := range interrupted {
		j, err := rm.db.GetJob(ij.JobID)
		if err != nil {
			return cleaned, fmt.Errorf("load job %s: %w", ij.JobID, err)
		}
		if j == nil {
			continue
		}
		now := time.Now()
		j.Status = models.JobFailed
		j.Reason = ReasonInterrupted
		j.FinishTime = &now
		if err := rm.db.UpdateJob(j); err != nil {
			return cleaned, fmt.Errorf("fail job %s: %w", j.ID, err)
		}
		log.Printf("[recovery] job %s was running under pid %d, marked failed", j.ID, ij.SupervisorPID)
		cleaned = append(cleaned, j.ID)
	}
	return cleaned, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
