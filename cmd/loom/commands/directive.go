package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDirectiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directive",
		Short: "Inspect binding directives",
	}

	cmd.AddCommand(newDirectiveValidateCommand())

	return cmd
}

func newDirectiveValidateCommand() *cobra.Command {
	var pluginsDir string

	cmd := &cobra.Command{
		Use:   "validate <document>",
		Short: "Validate the binding directives of a project document",
		Long: `Build and validate every binding declared in a project document, and
check that a registered strategy exists for each source/target/event
combination the document's components would produce.`,
		Example: `  # Validate the bindings of a document
  loom directive validate stack.yaml

  # Include WASM plugin strategies in the coverage check
  loom directive validate stack.yaml --plugins ./plugins`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			doc, err := loadDocument(ctx, args[0])
			if err != nil {
				return err
			}

			registry, pluginRegistry, err := buildStrategyRegistry(ctx, pluginsDir)
			if err != nil {
				return err
			}
			if pluginRegistry != nil {
				defer func() { _ = pluginRegistry.CloseAll(ctx) }()
			}

			type bindingReport struct {
				Source    string `json:"source"`
				Target    string `json:"target"`
				EventType string `json:"event_type"`
				Access    string `json:"access"`
				Valid     bool   `json:"valid"`
				Error     string `json:"error,omitempty"`
			}

			reports := make([]bindingReport, 0, len(doc.Bindings))
			invalid := 0
			for _, b := range doc.Bindings {
				report := bindingReport{
					Source:    b.Source,
					Target:    b.Target,
					EventType: b.EventType,
					Access:    b.Access,
					Valid:     true,
				}
				if _, err := b.Directive(); err != nil {
					report.Valid = false
					report.Error = err.Error()
					invalid++
				}
				reports = append(reports, report)
			}

			if jsonOutput {
				if err := printJSON(reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					status := "ok"
					if !r.Valid {
						status = "invalid: " + r.Error
					}
					fmt.Printf("%s -> %s (%s, %s): %s\n", r.Source, r.Target, r.EventType, r.Access, status)
				}
				entries := registry.AllCompatibilityEntries()
				fmt.Printf("%d bindings checked against %d registered trigger combinations\n", len(reports), len(entries))
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d bindings are invalid", invalid, len(reports))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pluginsDir, "plugins", "", "WASM plugin directory")

	return cmd
}
