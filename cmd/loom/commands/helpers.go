package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/cloudloom/loom/pkg/binder"
	"github.com/cloudloom/loom/pkg/capability"
	"github.com/cloudloom/loom/pkg/config"
	"github.com/cloudloom/loom/pkg/identity"
	"github.com/cloudloom/loom/pkg/plugins"
	"github.com/cloudloom/loom/pkg/stores"
)

// synthInput is the synthesized input of one run: the component adapters the
// document's bindings refer to, and the raw resource set for drift avoidance.
type synthInput struct {
	Components []componentInput    `json:"components,omitempty"`
	Resources  []identity.Resource `json:"resources,omitempty"`
}

// componentInput declares one component and its offered capabilities.
type componentInput struct {
	Name         string                  `json:"name"`
	Type         string                  `json:"type"`
	Capabilities []capability.Descriptor `json:"capabilities,omitempty"`
}

// loadSynthInput parses a synthesized input file.
func loadSynthInput(path string) (*synthInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	var input synthInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input file %s: %w", path, err)
	}
	return &input, nil
}

// buildComponents turns component declarations into capability adapters.
func buildComponents(input *synthInput) (map[string]capability.Adapter, error) {
	components := make(map[string]capability.Adapter, len(input.Components))
	for _, c := range input.Components {
		set, err := capability.NewSet(c.Capabilities...)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", c.Name, err)
		}
		component, err := capability.NewComponent(c.Type, c.Name, set)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", c.Name, err)
		}
		components[c.Name] = component
	}
	return components, nil
}

// loadDocument parses and validates one project document.
func loadDocument(ctx context.Context, path string) (*config.Document, error) {
	loader := config.NewLoader(log.Logger)
	result, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return result.Document, nil
}

// resolveStorePath picks the identity store location: the --store flag wins,
// then the document's store section, then the default.
func resolveStorePath(doc *config.Document) string {
	if storePath != "" {
		return storePath
	}
	if doc != nil && doc.Store.Path != "" {
		return doc.Store.Path
	}
	return "loom.db"
}

// openStore opens and migrates the identity store.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return store, nil
}

// buildStrategyRegistry registers the built-in strategies and, when a plugin
// directory is given, discovers and attaches WASM plugin strategies. The
// returned plugin registry is nil when no plugins were loaded; callers close
// it when done.
func buildStrategyRegistry(ctx context.Context, pluginsDir string) (*binder.Registry, *plugins.Registry, error) {
	registry := binder.NewRegistry()
	for _, s := range binder.Builtins() {
		registry.Register(s)
	}

	if pluginsDir == "" {
		return registry, nil, nil
	}

	pluginRegistry := plugins.NewRegistry(pluginsDir, nil, log.Logger)
	if err := pluginRegistry.Discover(ctx, pluginsDir); err != nil {
		return nil, nil, fmt.Errorf("failed to discover plugins: %w", err)
	}
	if err := pluginRegistry.AttachAll(ctx, registry); err != nil {
		return nil, nil, fmt.Errorf("failed to attach plugin strategies: %w", err)
	}

	return registry, pluginRegistry, nil
}

// printJSON writes indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
