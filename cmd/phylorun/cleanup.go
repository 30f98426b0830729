package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/internal/state"
)

var (
	cleanupOlderThan time.Duration
	cleanupDryRun    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Recover interrupted jobs and purge old ones",
	Long: `Clean up after crashed supervisors and remove old job records.

This command:
  - Marks jobs left running by a dead supervisor as failed (interrupted)
  - Deletes finished, failed and stopped jobs older than --older-than

Result directories on disk are left in place.

Examples:
  phylorun cleanup                     # purge jobs older than 30 days
  phylorun cleanup --older-than 168h   # purge jobs older than a week
  phylorun cleanup --dry-run           # only report interrupted jobs`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Purge terminal jobs finished before this age")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show interrupted jobs without changing anything")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	_, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	rm := state.NewRecoveryManager(db)
	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		return err
	}
	for _, ij := range interrupted {
		if ij.Alive {
			printStatus("●", fmt.Sprintf("%s is running under supervisor pid %d", ij.JobID, ij.SupervisorPID), color.FgCyan)
		} else {
			printStatus("⚠", fmt.Sprintf("%s was interrupted (supervisor pid %d is gone)", ij.JobID, ij.SupervisorPID), color.FgYellow)
		}
	}

	if cleanupDryRun {
		return nil
	}

	recovered, err := rm.Clean()
	if err != nil {
		printStatus("✗", err.Error(), color.FgRed)
	}
	for _, id := range recovered {
		printStatus("✓", fmt.Sprintf("Marked %s %s", id, state.ReasonInterrupted), color.FgGreen)
	}

	n, err := db.PurgeFinishedJobs(cleanupOlderThan)
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Purged %d jobs older than %s", n, formatDuration(cleanupOlderThan)), color.FgGreen)
	return nil
}
