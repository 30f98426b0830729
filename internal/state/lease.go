package state

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"
)

// AcquireLease makes owner the only supervisor allowed to run engines
// against this database. A lease left by a process that no longer exists
// is taken over; a live holder yields ErrSupervisorActive. Acquiring a
// lease owner already holds succeeds.
func (db *DB) AcquireLease(owner string) error {
	pid := os.Getpid()
	for attempt := 0; attempt < 3; attempt++ {
		now := formatTime(time.Now())
		res, err := db.Exec(`
			INSERT INTO supervisor_lease (id, owner, pid, acquired_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, owner, pid, now)
		if err != nil {
			return fmt.Errorf("acquire supervisor lease: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if n == 1 {
			return nil
		}

		var holder string
		var holderPID int
		err = db.QueryRow(`SELECT owner, pid FROM supervisor_lease WHERE id = 1`).Scan(&holder, &holderPID)
		if err == sql.ErrNoRows {
			// Released between the insert and the read.
			continue
		}
		if err != nil {
			return fmt.Errorf("read supervisor lease: %w", err)
		}
		if holder == owner {
			return nil
		}
		if isProcessAlive(holderPID) {
			return fmt.Errorf("lease held by pid %d: %w", holderPID, ErrSupervisorActive)
		}

		res, err = db.Exec(`
			UPDATE supervisor_lease SET owner = ?, pid = ?, acquired_at = ?
			WHERE id = 1 AND owner = ?
		`, owner, pid, now, holder)
		if err != nil {
			return fmt.Errorf("take over supervisor lease: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			log.Printf("[state] took over supervisor lease from dead pid %d", holderPID)
			return nil
		}
	}
	return fmt.Errorf("supervisor lease contended: %w", ErrSupervisorActive)
}

// ReleaseLease gives up the lease if owner holds it.
func (db *DB) ReleaseLease(owner string) error {
	if _, err := db.Exec(`DELETE FROM supervisor_lease WHERE id = 1 AND owner = ?`, owner); err != nil {
		return fmt.Errorf("release supervisor lease: %w", err)
	}
	return nil
}
