package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/internal/supervisor"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

var stopWait bool

var stopCmd = &cobra.Command{
	Use:   "stop <job>",
	Short: "Stop a running job",
	Long: `Ask the running supervisor to stop a job.

The engine is asked to terminate and is killed if it has not exited within
supervisor.stop_timeout. Stopping a job that is not running does nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	stopCmd.Flags().BoolVarP(&stopWait, "wait", "w", false, "Wait until the job has stopped")
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	j, err := db.GetJob(args[0])
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("job %s not found", args[0])
	}
	if j.Status != models.JobRunning {
		fmt.Printf("Job %s is %s; nothing to stop.\n", j.ID, j.Status)
		return nil
	}

	ok, err := db.RequestStop(j.ID)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("Job %s is no longer running.\n", j.ID)
		return nil
	}
	printStatus("✓", fmt.Sprintf("Stop requested for %s", j.ID), color.FgGreen)

	if !stopWait {
		return nil
	}

	// Poll, then grace period, then kill grace period.
	sc := cfg.SupervisorConfig()
	deadline := time.Now().Add(sc.StopPollInterval + 2*sc.StopTimeout + time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		j, err = db.GetJob(j.ID)
		if err != nil {
			return err
		}
		if j == nil || j.Status.Terminal() {
			symbol, msg, attr := stopOutcome(args[0], j)
			printStatus(symbol, msg, attr)
			return nil
		}
	}
	return fmt.Errorf("job %s: %w", args[0], supervisor.ErrStopUnconfirmed)
}

// stopOutcome describes how a stopped-for job actually ended. The job
// may have finished or failed before the stop request was seen.
func stopOutcome(id string, j *models.AnalysisJob) (string, string, color.Attribute) {
	if j == nil {
		return "●", fmt.Sprintf("Job %s was removed", id), color.FgYellow
	}
	msg := fmt.Sprintf("Job %s %s", j.ID, j.Status)
	if j.Reason != "" {
		msg += ": " + j.Reason
	}
	switch j.Status {
	case models.JobStopped:
		return "✓", msg, color.FgGreen
	case models.JobFailed:
		return "✗", msg, color.FgRed
	default:
		return "●", msg + " (before the stop took effect)", color.FgYellow
	}
}
