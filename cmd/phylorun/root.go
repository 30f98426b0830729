package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDirArg string
)

var rootCmd = &cobra.Command{
	Use:   "phylorun",
	Short: "Phylogenetic analysis runner",
	Long: `phylorun converts character matrices into the input formats of external
phylogenetics engines, supervises one engine run at a time, and stores the
resulting consensus trees.

Supported engines:
- Parsimony: TNT
- Maximum likelihood: IQ-TREE
- Bayesian inference: MrBayes

Typical workflow:
  phylorun import beetles.nex
  phylorun submit <matrix> --category ml --bootstrap 1000 --fast
  phylorun run
  phylorun show <job>`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/phylorun/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDirArg, "data-dir", "", "Data directory (overrides data_dir)")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(matricesCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
