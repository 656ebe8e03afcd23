package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	storePath  string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - capability-based binding and identity preservation",
		Long: `Loom resolves declarative component bindings through capability-aware
strategies and keeps synthesized resource identities stable across runs.

Features:
  - Typed project documents via CUE or YAML
  - Strategy-based binding resolution with WASM plugin strategies
  - Drift avoidance with deterministic resource naming
  - Policy gates via OPA/rego
  - SQLite-persisted identity maps with SSH snapshot backup`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&storePath, "store", "s", "", "identity store path (overrides the document's store path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newSynthCommand())
	rootCmd.AddCommand(newStrategiesCommand())
	rootCmd.AddCommand(newDirectiveCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newDevCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
