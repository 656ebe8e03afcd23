package commands

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cloudloom/loom/pkg/config"
	"github.com/cloudloom/loom/pkg/policy"
	"github.com/cloudloom/loom/pkg/synth"
)

func newDevCommand() *cobra.Command {
	var (
		inputFile  string
		policyDirs []string
		pluginsDir string
	)

	cmd := &cobra.Command{
		Use:   "dev <document>",
		Short: "Watch a document and re-run dry synthesis on change",
		Long: `Run the synthesis pipeline in a development loop: execute one dry run
immediately, then watch the project document and any policy paths for
changes and re-run on every change.

Runs are always dry: the full pipeline is evaluated and reported, but
the identity map is never persisted. Policy edits are recompiled and hot
swapped into the gate; a policy that fails to compile keeps the previous
set active.`,
		Example: `  # Iterate on a document against a synthesized input
  loom dev stack.yaml --input synthesized.json

  # Also iterate on the policy gate
  loom dev stack.yaml --input synthesized.json --policies ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			docPath := args[0]

			loader := config.NewLoader(log.Logger)
			res, err := loader.Load(ctx, docPath)
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
			policyLoader := policy.NewLoader(log.Logger)
			if len(policyDirs) > 0 {
				loaded, err := policyLoader.LoadFromPaths(ctx, policyDirs)
				if err != nil {
					return err
				}
				if err := policies.ReplacePolicies(loaded); err != nil {
					return err
				}
			}

			store, err := openStore(ctx, resolveStorePath(res.Document))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			orch := synth.NewOrchestrator(store, registry, policies, log.Logger)

			var mu sync.Mutex
			current := res.Document
			runOnce := func() {
				mu.Lock()
				defer mu.Unlock()

				result, runErr := orch.Run(ctx, &synth.Request{
					Document:   current,
					Components: components,
					Resources:  input.Resources,
					Actor:      "dev",
					DryRun:     true,
				})
				if result != nil {
					printRunSummary(result)
				}
				if runErr != nil && !errors.Is(runErr, synth.ErrPolicyDenied) {
					log.Warn().Err(runErr).Msg("Dev run failed")
				}
			}
			runOnce()

			err = loader.Watch(ctx, []string{docPath}, func(results []*config.LoadResult) error {
				for _, r := range results {
					if r.Document != nil {
						mu.Lock()
						current = r.Document
						mu.Unlock()
					}
				}
				runOnce()
				return nil
			})
			if err != nil {
				return err
			}
			defer func() { _ = loader.StopWatching() }()

			if len(policyDirs) > 0 {
				err = policyLoader.Watch(ctx, policyDirs, func(reloaded []policy.Policy) error {
					if err := policies.ReplacePolicies(reloaded); err != nil {
						return err
					}
					runOnce()
					return nil
				})
				if err != nil {
					return err
				}
				defer func() { _ = policyLoader.StopWatching() }()
			}

			fmt.Println("Watching for changes, Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "synthesized input file (components and resources)")
	cmd.Flags().StringSliceVar(&policyDirs, "policies", nil, "policy files or directories to load and watch")
	cmd.Flags().StringVar(&pluginsDir, "plugins", "", "WASM plugin directory")

	return cmd
}
