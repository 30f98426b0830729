package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/internal/state"
)

var matricesCmd = &cobra.Command{
	Use:   "matrices",
	Short: "List stored data matrices",
	Args:  cobra.NoArgs,
	RunE:  runMatrices,
}

var matricesRmCmd = &cobra.Command{
	Use:   "rm <matrix>...",
	Short: "Delete matrices with their jobs and trees",
	Long: `Delete matrices together with their jobs and consensus trees.

A matrix with a running job cannot be deleted; stop the job first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMatricesRm,
}

func init() {
	matricesCmd.AddCommand(matricesRmCmd)
}

func runMatrices(cmd *cobra.Command, args []string) error {
	_, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	recs, err := db.ListMatrices()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No matrices. Run 'phylorun import <file>' to add one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSOURCE\tTAXA\tCHARS\tUPDATED")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.Name, r.SourceDialect, r.NTaxa, r.NChars, formatTimestamp(&r.UpdatedAt))
	}
	return w.Flush()
}

func runMatricesRm(cmd *cobra.Command, args []string) error {
	_, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	var failed bool
	for _, id := range args {
		err := db.DeleteMatrix(id)
		switch {
		case errors.Is(err, state.ErrMatrixBusy):
			printStatus("✗", fmt.Sprintf("%s has a running job", id), color.FgRed)
			failed = true
		case err != nil:
			return err
		default:
			printStatus("✓", fmt.Sprintf("Deleted %s", id), color.FgGreen)
		}
	}
	if failed {
		return fmt.Errorf("some matrices were not deleted")
	}
	return nil
}
