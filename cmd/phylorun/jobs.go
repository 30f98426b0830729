package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/pkg/models"
)

var jobsStatus string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List analysis jobs",
	Long: `List analysis jobs, oldest first.

Examples:
  phylorun jobs
  phylorun jobs --status running`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVarP(&jobsStatus, "status", "s", "", "Only jobs with this status")
}

func runJobs(cmd *cobra.Command, args []string) error {
	_, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	var jobs []models.AnalysisJob
	if jobsStatus != "" {
		status := models.JobStatus(jobsStatus)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", jobsStatus)
		}
		jobs, err = db.ListJobsByStatus(status)
	} else {
		jobs, err = db.ListJobs()
	}
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMATRIX\tCATEGORY\tSTATUS\tPROGRESS\tAGE")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
			j.ID, j.MatrixID, j.Category, j.Status, j.Percentage, formatDuration(time.Since(j.CreatedAt)))
	}
	return w.Flush()
}
