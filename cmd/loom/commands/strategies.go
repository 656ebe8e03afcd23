package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStrategiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "Inspect binding strategies",
	}

	cmd.AddCommand(newStrategiesListCommand())

	return cmd
}

func newStrategiesListCommand() *cobra.Command {
	var pluginsDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered binding strategies",
		Long: `List the binding strategies the resolver knows about, built-ins and WASM
plugin strategies alike, with the source/target/event combinations each
one handles.`,
		Example: `  # List built-in strategies
  loom strategies list

  # Include WASM plugin strategies
  loom strategies list --plugins ./plugins`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			registry, pluginRegistry, err := buildStrategyRegistry(ctx, pluginsDir)
			if err != nil {
				return err
			}
			if pluginRegistry != nil {
				defer func() { _ = pluginRegistry.CloseAll(ctx) }()
			}

			type strategyInfo struct {
				Name     string   `json:"name"`
				Triggers []string `json:"triggers"`
			}

			strategies := registry.Strategies()
			infos := make([]strategyInfo, 0, len(strategies))
			for _, s := range strategies {
				entries := s.Compatibility()
				triggers := make([]string, 0, len(entries))
				for _, e := range entries {
					triggers = append(triggers, e.String())
				}
				infos = append(infos, strategyInfo{Name: s.Name(), Triggers: triggers})
			}

			if jsonOutput {
				return printJSON(infos)
			}

			for _, info := range infos {
				fmt.Println(info.Name)
				for _, trigger := range info.Triggers {
					fmt.Printf("  %s\n", trigger)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pluginsDir, "plugins", "", "WASM plugin directory")

	return cmd
}
