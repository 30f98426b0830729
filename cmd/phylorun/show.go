package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/internal/supervisor"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

var showTreeOnly bool

var showCmd = &cobra.Command{
	Use:   "show <job>",
	Short: "Show a job and its consensus tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showTreeOnly, "tree", false, "Print only the consensus Newick")
}

func runShow(cmd *cobra.Command, args []string) error {
	_, db, err := openRepo()
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
	ct, err := db.GetConsensusTree(j.ID)
	if err != nil {
		return err
	}

	if showTreeOnly {
		if ct == nil {
			return fmt.Errorf("job %s has no consensus tree", j.ID)
		}
		fmt.Println(ct.Newick)
		return nil
	}

	fmt.Printf("Job: %s\n", j.ID)
	fmt.Printf("  Matrix: %s\n", j.MatrixID)
	fmt.Printf("  Category: %s\n", j.Category)
	fmt.Printf("  Status: %s\n", statusColor(j.Status).Sprint(j.Status))
	fmt.Printf("  Progress: %.1f%%\n", j.Percentage)
	if j.Reason != "" {
		fmt.Printf("  Reason: %s\n", j.Reason)
	}
	fmt.Printf("  Created: %s\n", formatTimestamp(&j.CreatedAt))
	fmt.Printf("  Started: %s\n", formatTimestamp(j.StartTime))
	fmt.Printf("  Finished: %s\n", formatTimestamp(j.FinishTime))
	if j.StartTime != nil && j.FinishTime != nil {
		fmt.Printf("  Duration: %s\n", formatDuration(j.FinishTime.Sub(*j.StartTime)))
	}
	if j.ResultDir != "" {
		fmt.Printf("  Results: %s\n", j.ResultDir)
		fmt.Printf("  Log: %s\n", filepath.Join(j.ResultDir, supervisor.ProgressLogName))
	}

	if ct != nil {
		fmt.Println()
		fmt.Println("Consensus tree:")
		fmt.Printf("  %s\n", ct.Newick)
	}
	return nil
}

func statusColor(s models.JobStatus) *color.Color {
	switch s {
	case models.JobFinished:
		return color.New(color.FgGreen)
	case models.JobFailed:
		return color.New(color.FgRed)
	case models.JobStopped:
		return color.New(color.FgYellow)
	case models.JobRunning:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Reset)
	}
}
