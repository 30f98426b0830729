package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/internal/format"
	"github.com/ShayCichocki/phylorun/internal/state"
)

var importName string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a data matrix",
	Long: `Import a NEXUS, TNT or PHYLIP data matrix.

The format is detected from the file extension:
  .nex .nexus .nxs   NEXUS
  .tnt .ss           TNT
  .phy .phylip       PHYLIP

The matrix is stored under a new ID, printed on success.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importName, "name", "", "Matrix name (default: title or file name)")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	m, dialect, err := format.DecodeFile(args[0], cfg.CodecOptions())
	if err != nil {
		return err
	}
	if importName != "" {
		m.Name = importName
	}

	rec, err := state.NewMatrixRecord(m, dialect)
	if err != nil {
		return err
	}
	if err := db.CreateMatrix(rec); err != nil {
		return err
	}

	printStatus("✓", fmt.Sprintf("Imported %s matrix %q: %d taxa, %d characters", dialect, rec.Name, rec.NTaxa, rec.NChars), color.FgGreen)
	fmt.Println(rec.ID)
	return nil
}
