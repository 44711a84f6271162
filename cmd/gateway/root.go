package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "LLM request routing and resilience gateway",
	Long: `Gateway routes LLM requests through named task groups and instance
pools, degrading gracefully when backends fail.

It provides:
  - Priority-ordered model routing (task groups and echelons)
  - Circuit breakers and bounded fallback chains
  - Multi-level concurrency and rate admission
  - Rotated instance pools with health tracking`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "gateway.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
