package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cloudloom/loom/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with project documents",
	}

	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate project documents",
		Long: `Parse and validate project documents against the built-in CUE schemas.

Documents may be YAML or CUE. Directories are walked recursively; every
document found is validated and each failure is reported individually.`,
		Example: `  # Validate documents in the current directory
  loom config validate

  # Validate a single document
  loom config validate stack.yaml

  # Validate several paths
  loom config validate ./stacks ./overrides.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			paths := args
			if len(paths) == 0 {
				paths = []string{"."}
			}

			loader := config.NewLoader(log.Logger)

			type fileReport struct {
				File     string `json:"file"`
				Stack    string `json:"stack,omitempty"`
				Bindings int    `json:"bindings"`
				Valid    bool   `json:"valid"`
				Error    string `json:"error,omitempty"`
			}

			var reports []fileReport
			failures := 0

			validateFile := func(path string) {
				result, err := loader.Load(ctx, path)
				if err != nil {
					reports = append(reports, fileReport{File: path, Error: err.Error()})
					failures++
					return
				}
				reports = append(reports, fileReport{
					File:     path,
					Stack:    result.Document.Stack.Name + "/" + result.Document.Stack.Environment,
					Bindings: len(result.Document.Bindings),
					Valid:    true,
				})
			}

			for _, p := range paths {
				info, err := os.Stat(p)
				if err != nil {
					return err
				}
				if !info.IsDir() {
					validateFile(p)
					continue
				}
				err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
					if err != nil {
						return err
					}
					if d.IsDir() {
						return nil
					}
					switch filepath.Ext(path) {
					case ".yaml", ".yml", ".cue":
						validateFile(path)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				if err := printJSON(reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					if r.Valid {
						fmt.Printf("%s: ok (stack %s, %d bindings)\n", r.File, r.Stack, r.Bindings)
					} else {
						fmt.Printf("%s: %s\n", r.File, r.Error)
					}
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d documents are invalid", failures, len(reports))
			}
			return nil
		},
	}

	return cmd
}
