package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/phylorun/internal/format"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export <matrix>",
	Short: "Export a data matrix",
	Long: `Write a stored matrix as NEXUS, TNT or PHYLIP.

Examples:
  phylorun export 1a2b3c4d                      # NEXUS to stdout
  phylorun export 1a2b3c4d --format tnt -o m.tnt`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "nexus", "Output format: nexus, tnt, phylip")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	dialect, err := models.ParseDialect(exportFormat)
	if err != nil {
		return err
	}

	cfg, db, err := openRepo()
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := db.GetMatrix(args[0])
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("matrix %s not found", args[0])
	}
	m, err := rec.Matrix()
	if err != nil {
		return err
	}

	if exportOutput == "" {
		return format.Encode(os.Stdout, m, dialect, cfg.CodecOptions())
	}
	if err := format.EncodeFile(exportOutput, m, dialect, cfg.CodecOptions()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s to %s\n", dialect, exportOutput)
	return nil
}
