package plugins

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cloudloom/loom/pkg/binder"
)

// Metadata describes a strategy plugin.
type Metadata struct {
	// Name is the plugin name.
	Name string `yaml:"name" json:"name"`

	// Version is the plugin version.
	Version string `yaml:"version" json:"version"`

	// Author is the plugin author.
	Author string `yaml:"author" json:"author"`

	// License is the plugin license identifier.
	License string `yaml:"license" json:"license"`

	// Description is a human-readable summary.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Homepage is the plugin's project page.
	Homepage string `yaml:"homepage,omitempty" json:"homepage,omitempty"`
}

// StrategyDecl declares one binder strategy exported by a plugin.
type StrategyDecl struct {
	// Name is the strategy name, unique within the plugin.
	Name string `yaml:"name" json:"name"`

	// Description is a human-readable summary.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Compatibility lists the (source, target, event) tuples the strategy
	// handles.
	Compatibility []binder.CompatibilityEntry `yaml:"compatibility" json:"compatibility"`

	// AccessLevels restricts the access levels the strategy accepts. Empty
	// means all levels.
	AccessLevels []string `yaml:"access_levels,omitempty" json:"access_levels,omitempty"`
}

// ManifestSpec is the raw plugin manifest as written in YAML.
type ManifestSpec struct {
	// Metadata describes the plugin.
	Metadata Metadata `yaml:"metadata" json:"metadata"`

	// Entrypoint is the path to the WASM module, relative to the manifest.
	Entrypoint string `yaml:"entrypoint" json:"entrypoint"`

	// Checksum is the expected sha256 of the WASM module, hex encoded.
	Checksum string `yaml:"checksum,omitempty" json:"checksum,omitempty"`

	// Strategies are the binder strategies the plugin exports.
	Strategies []StrategyDecl `yaml:"strategies" json:"strategies"`
}

// Manifest represents a parsed plugin manifest.
type Manifest struct {
	// Raw is the raw manifest data from the YAML file.
	Raw *ManifestSpec

	// Path is the file path where the manifest was loaded from.
	Path string

	// WasmPath is the path to the WASM module.
	WasmPath string

	// Verified indicates if the WASM module checksum has been verified.
	Verified bool
}

// ManifestLoader loads and parses plugin manifests.
type ManifestLoader struct {
	// BaseDir is the base directory for resolving relative paths.
	BaseDir string
}

// NewManifestLoader creates a new manifest loader.
func NewManifestLoader(baseDir string) *ManifestLoader {
	return &ManifestLoader{BaseDir: baseDir}
}

// LoadFromFile loads a manifest from a YAML file.
func (m *ManifestLoader) LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var raw ManifestSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := m.validateManifest(&raw); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	manifest := &Manifest{
		Raw:  &raw,
		Path: path,
	}

	if err := m.resolveWasmPath(manifest); err != nil {
		return nil, fmt.Errorf("failed to resolve WASM path: %w", err)
	}

	return manifest, nil
}

// LoadFromBytes loads a manifest from raw bytes, verifying the WASM module
// checksum when the manifest declares one.
func (m *ManifestLoader) LoadFromBytes(data []byte, wasmModule []byte) (*Manifest, error) {
	var raw ManifestSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := m.validateManifest(&raw); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	manifest := &Manifest{Raw: &raw}

	if raw.Checksum != "" {
		hash := sha256.Sum256(wasmModule)
		computedChecksum := hex.EncodeToString(hash[:])
		if computedChecksum != raw.Checksum {
			return nil, fmt.Errorf("WASM module checksum mismatch: expected %s, got %s",
				raw.Checksum, computedChecksum)
		}
		manifest.Verified = true
	}

	return manifest, nil
}

// validateManifest validates the basic structure of a manifest.
func (m *ManifestLoader) validateManifest(manifest *ManifestSpec) error {
	if manifest.Metadata.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if manifest.Metadata.Version == "" {
		return fmt.Errorf("plugin version is required")
	}
	if manifest.Metadata.Author == "" {
		return fmt.Errorf("plugin author is required")
	}
	if manifest.Metadata.License == "" {
		return fmt.Errorf("plugin license is required")
	}

	if manifest.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}

	if len(manifest.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}

	seen := make(map[string]bool, len(manifest.Strategies))
	for _, s := range manifest.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy name: %s", s.Name)
		}
		seen[s.Name] = true

		if len(s.Compatibility) == 0 {
			return fmt.Errorf("strategy %s: at least one compatibility entry is required", s.Name)
		}
		for _, c := range s.Compatibility {
			if c.SourceType == "" || c.TargetType == "" || c.EventType == "" {
				return fmt.Errorf("strategy %s: compatibility entries need source, target, and event types", s.Name)
			}
		}
		for _, a := range s.AccessLevels {
			if !binder.ValidAccessLevel(binder.AccessLevel(a)) {
				return fmt.Errorf("strategy %s: invalid access level %q", s.Name, a)
			}
		}
	}

	return nil
}

// resolveWasmPath resolves the path to the WASM module.
func (m *ManifestLoader) resolveWasmPath(manifest *Manifest) error {
	if filepath.IsAbs(manifest.Raw.Entrypoint) {
		manifest.WasmPath = manifest.Raw.Entrypoint
		return nil
	}

	if manifest.Path != "" {
		manifestDir := filepath.Dir(manifest.Path)
		manifest.WasmPath = filepath.Join(manifestDir, manifest.Raw.Entrypoint)
	} else {
		manifest.WasmPath = filepath.Join(m.BaseDir, manifest.Raw.Entrypoint)
	}

	if _, err := os.Stat(manifest.WasmPath); err != nil {
		return fmt.Errorf("WASM module not found at %s: %w", manifest.WasmPath, err)
	}

	return nil
}

// VerifyChecksum verifies the WASM module checksum against the manifest.
func (m *Manifest) VerifyChecksum(wasmModule []byte) error {
	if m.Raw.Checksum == "" {
		return fmt.Errorf("no checksum in manifest")
	}

	hash := sha256.Sum256(wasmModule)
	computedChecksum := hex.EncodeToString(hash[:])

	if computedChecksum != m.Raw.Checksum {
		return fmt.Errorf("WASM module checksum mismatch: expected %s, got %s",
			m.Raw.Checksum, computedChecksum)
	}

	m.Verified = true
	return nil
}

// StrategyNames returns the names of all declared strategies.
func (m *Manifest) StrategyNames() []string {
	names := make([]string, 0, len(m.Raw.Strategies))
	for _, s := range m.Raw.Strategies {
		names = append(names, s.Name)
	}
	return names
}

// Strategy returns the declaration for a named strategy.
func (m *Manifest) Strategy(name string) (*StrategyDecl, error) {
	for i := range m.Raw.Strategies {
		if m.Raw.Strategies[i].Name == name {
			return &m.Raw.Strategies[i], nil
		}
	}
	return nil, fmt.Errorf("strategy %s not found in manifest", name)
}
