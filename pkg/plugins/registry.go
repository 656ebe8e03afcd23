package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cloudloom/loom/pkg/binder"
)

// Registry manages WASM strategy plugins. Registration stores the manifest
// and module bytes; instantiation is deferred until the plugin is first
// requested.
type Registry struct {
	mu sync.RWMutex

	// plugins maps plugin key (name@version) to the instantiated plugin.
	plugins map[string]*Plugin

	// manifests maps plugin key to manifest.
	manifests map[string]*Manifest

	// wasmModules maps plugin key to WASM module bytes.
	wasmModules map[string][]byte

	loader     *ManifestLoader
	hostConfig *HostConfig
	logger     zerolog.Logger
}

// NewRegistry creates a new plugin registry.
func NewRegistry(baseDir string, hostConfig *HostConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		plugins:     make(map[string]*Plugin),
		manifests:   make(map[string]*Manifest),
		wasmModules: make(map[string][]byte),
		loader:      NewManifestLoader(baseDir),
		hostConfig:  hostConfig,
		logger:      logger.With().Str("component", "plugin-registry").Logger(),
	}
}

// buildPluginKey builds the registry key for a plugin.
func buildPluginKey(name, version string) string {
	return name + "@" + version
}

// Register registers a plugin from manifest bytes and module bytes.
func (r *Registry) Register(ctx context.Context, manifestBytes, wasmModule []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := r.loader.LoadFromBytes(manifestBytes, wasmModule)
	if err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	key := buildPluginKey(manifest.Raw.Metadata.Name, manifest.Raw.Metadata.Version)
	if _, exists := r.manifests[key]; exists {
		return fmt.Errorf("plugin %s already registered", key)
	}

	r.manifests[key] = manifest
	r.wasmModules[key] = wasmModule

	r.logger.Info().
		Str("plugin", key).
		Strs("strategies", manifest.StrategyNames()).
		Msg("Plugin registered")

	return nil
}

// RegisterFromPath registers a plugin from a manifest file; the WASM module
// is read from the manifest's entrypoint.
func (r *Registry) RegisterFromPath(ctx context.Context, manifestPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := r.loader.LoadFromFile(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	wasmModule, err := os.ReadFile(manifest.WasmPath)
	if err != nil {
		return fmt.Errorf("failed to read WASM module: %w", err)
	}

	if manifest.Raw.Checksum != "" {
		if err := manifest.VerifyChecksum(wasmModule); err != nil {
			return fmt.Errorf("checksum verification failed: %w", err)
		}
	}

	key := buildPluginKey(manifest.Raw.Metadata.Name, manifest.Raw.Metadata.Version)
	if _, exists := r.manifests[key]; exists {
		return fmt.Errorf("plugin %s already registered", key)
	}

	r.manifests[key] = manifest
	r.wasmModules[key] = wasmModule

	r.logger.Info().
		Str("plugin", key).
		Str("path", manifestPath).
		Msg("Plugin registered from path")

	return nil
}

// Discover walks a directory and registers every plugin manifest found.
func (r *Registry) Discover(ctx context.Context, dir string) error {
	entries := []string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk plugin directory: %w", err)
	}

	for _, path := range entries {
		if err := r.RegisterFromPath(ctx, path); err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("Failed to register plugin")
		}
	}

	return nil
}

// Get returns the plugin for a key, instantiating it on first use.
func (r *Registry) Get(ctx context.Context, key string) (*Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if plugin, exists := r.plugins[key]; exists {
		return plugin, nil
	}

	manifest, exists := r.manifests[key]
	if !exists {
		return nil, fmt.Errorf("plugin %s not registered", key)
	}

	plugin, err := NewPlugin(ctx, manifest, r.wasmModules[key], r.hostConfig, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate plugin %s: %w", key, err)
	}

	if err := plugin.Init(ctx, nil); err != nil {
		plugin.Close(ctx)
		return nil, fmt.Errorf("failed to initialize plugin %s: %w", key, err)
	}

	r.plugins[key] = plugin
	return plugin, nil
}

// List returns the keys of all registered plugins, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.manifests))
	for key := range r.manifests {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Manifest returns the manifest for a registered plugin.
func (r *Registry) Manifest(key string) (*Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifest, exists := r.manifests[key]
	if !exists {
		return nil, fmt.Errorf("plugin %s not registered", key)
	}
	return manifest, nil
}

// AttachAll instantiates every registered plugin and registers its
// strategies with the binder registry.
func (r *Registry) AttachAll(ctx context.Context, binderRegistry *binder.Registry) error {
	for _, key := range r.List() {
		plugin, err := r.Get(ctx, key)
		if err != nil {
			return err
		}
		for _, strategy := range plugin.Strategies() {
			binderRegistry.Register(strategy)
		}
	}
	return nil
}

// CloseAll closes every instantiated plugin.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, plugin := range r.plugins {
		if err := plugin.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close plugin %s: %w", key, err)
		}
		delete(r.plugins, key)
	}
	return firstErr
}
