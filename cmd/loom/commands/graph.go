package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudloom/loom/pkg/identity"
)

func newGraphCommand() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the resource dependency graph",
		Long: `Build the dependency graph over a synthesized resource set, validate it
for unknown references and circular dependencies, and render it in
Graphviz DOT format.`,
		Example: `  # Render the graph of a synthesized input
  loom graph --input synthesized.json

  # Render it with Graphviz
  loom graph --input synthesized.json | dot -Tsvg -o graph.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := loadSynthInput(inputPath)
			if err != nil {
				return err
			}

			graph, err := identity.BuildGraph(input.Resources)
			if err != nil {
				return fmt.Errorf("invalid resource dependency graph: %w", err)
			}

			if jsonOutput {
				return printJSON(graph)
			}

			fmt.Print(graph.ToDOT(input.Resources))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "synthesized input file (required)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
