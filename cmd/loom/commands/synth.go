package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cloudloom/loom/pkg/policy"
	"github.com/cloudloom/loom/pkg/synth"
)

func newSynthCommand() *cobra.Command {
	var (
		inputFile  string
		policyDirs []string
		pluginsDir string
		actor      string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "synth <document>",
		Short: "Run a synthesis pass over a project document",
		Long: `Execute one synthesis run: resolve the document's bindings, apply drift
avoidance to the synthesized resource set, evaluate the policy gate, and
persist the updated identity map.

The input file carries the synthesized side of the run: the component
declarations the bindings refer to and the raw resource set. Runs are
serialized per stack and environment; the identity map is only persisted
when the whole run validated.`,
		Example: `  # Run synthesis with a synthesized input file
  loom synth stack.yaml --input synthesized.json

  # Dry run: evaluate everything, persist nothing
  loom synth stack.yaml --input synthesized.json --dry-run

  # With custom policies and WASM plugin strategies
  loom synth stack.cue --input synthesized.json \
    --policies ./policies --plugins ./plugins`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			doc, err := loadDocument(ctx, args[0])
			if err != nil {
				return err
			}

			input := &synthInput{}
			if inputFile != "" {
				input, err = loadSynthInput(inputFile)
				if err != nil {
					return err
				}
			}

			components, err := buildComponents(input)
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

			policies, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if len(policyDirs) > 0 {
				if err := policies.LoadPolicies(ctx, policyDirs); err != nil {
					return err
				}
			}

			store, err := openStore(ctx, resolveStorePath(doc))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			orch := synth.NewOrchestrator(store, registry, policies, log.Logger)
			result, runErr := orch.Run(ctx, &synth.Request{
				Document:   doc,
				Components: components,
				Resources:  input.Resources,
				Actor:      actor,
				DryRun:     dryRun,
			})

			if result != nil {
				if jsonOutput {
					if err := printJSON(result); err != nil {
						return err
					}
				} else {
					printRunSummary(result)
				}
			}

			if runErr != nil {
				if errors.Is(runErr, synth.ErrPolicyDenied) {
					return fmt.Errorf("run %s denied by policy", result.RunID)
				}
				return runErr
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "synthesized input file (components and resources)")
	cmd.Flags().StringSliceVar(&policyDirs, "policies", nil, "additional policy files or directories")
	cmd.Flags().StringVar(&pluginsDir, "plugins", "", "WASM plugin directory")
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded in the audit trail")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate the full pipeline without persisting")

	return cmd
}

func printRunSummary(result *synth.Result) {
	fmt.Printf("Run %s: %s (%.2fs)\n", result.RunID, result.Status, result.Duration.Seconds())

	resolved := 0
	for _, b := range result.Bindings {
		if b != nil {
			resolved++
		}
	}
	fmt.Printf("  Bindings: %d resolved, %d failed\n", resolved, len(result.BindingErrors))
	for i, err := range result.BindingErrors {
		fmt.Printf("    [%d] %v\n", i, err)
	}

	if result.Drift != nil {
		preserved, renamed, replaced := 0, 0, 0
		for _, d := range result.Drift.Decisions {
			switch d.Outcome {
			case "preserved":
				preserved++
			case "renamed":
				renamed++
			case "replaced":
				replaced++
			}
		}
		fmt.Printf("  Drift: %d preserved, %d renamed, %d replaced\n", preserved, renamed, replaced)
		for _, w := range result.Drift.Warnings {
			fmt.Printf("    warning: %s\n", w)
		}
	}

	if result.Policy != nil {
		fmt.Printf("  Policy: allowed=%v, %d violations\n", result.Policy.Allowed, len(result.Policy.Violations))
		for _, v := range result.Policy.Violations {
			fmt.Printf("    [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
		}
	}
}
