package plugins

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry("", nil, zerolog.New(nil).Level(zerolog.Disabled))
}

const sampleManifest = `
metadata:
  name: aws-triggers
  version: 1.0.0
  author: platform-team
  license: Apache-2.0
  description: AWS event source wiring strategies
entrypoint: aws-triggers.wasm
strategies:
  - name: queue-invoke
    description: Wires queue messages into function invocations
    compatibility:
      - source_type: function
        target_type: queue
        event_type: message
    access_levels: [invoke, subscribe]
  - name: topic-publish
    compatibility:
      - source_type: function
        target_type: topic
        event_type: publish
`

func writeManifestDir(t *testing.T, manifest string, wasm []byte) (string, string) {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if wasm != nil {
		if err := os.WriteFile(filepath.Join(dir, "aws-triggers.wasm"), wasm, 0o644); err != nil {
			t.Fatalf("failed to write wasm module: %v", err)
		}
	}
	return dir, manifestPath
}

func TestLoadManifestFromFile(t *testing.T) {
	_, manifestPath := writeManifestDir(t, sampleManifest, []byte("\x00asm"))
	loader := NewManifestLoader("")

	manifest, err := loader.LoadFromFile(manifestPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if manifest.Raw.Metadata.Name != "aws-triggers" {
		t.Errorf("unexpected plugin name: %s", manifest.Raw.Metadata.Name)
	}
	if len(manifest.Raw.Strategies) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(manifest.Raw.Strategies))
	}

	names := manifest.StrategyNames()
	if names[0] != "queue-invoke" || names[1] != "topic-publish" {
		t.Errorf("unexpected strategy names: %v", names)
	}

	decl, err := manifest.Strategy("queue-invoke")
	if err != nil {
		t.Fatalf("Strategy failed: %v", err)
	}
	if decl.Compatibility[0].SourceType != "function" || decl.Compatibility[0].TargetType != "queue" {
		t.Errorf("unexpected compatibility: %+v", decl.Compatibility[0])
	}

	if !strings.HasSuffix(manifest.WasmPath, "aws-triggers.wasm") {
		t.Errorf("unexpected wasm path: %s", manifest.WasmPath)
	}
}

func TestLoadManifestMissingWasm(t *testing.T) {
	_, manifestPath := writeManifestDir(t, sampleManifest, nil)
	loader := NewManifestLoader("")

	if _, err := loader.LoadFromFile(manifestPath); err == nil {
		t.Error("expected error when the WASM module is missing")
	}
}

func TestManifestValidation(t *testing.T) {
	loader := NewManifestLoader("")

	tests := []struct {
		name     string
		manifest string
	}{
		{
			name: "missing name",
			manifest: `
metadata:
  version: 1.0.0
  author: a
  license: MIT
entrypoint: p.wasm
strategies:
  - name: s
    compatibility:
      - source_type: a
        target_type: b
        event_type: c
`,
		},
		{
			name: "no strategies",
			manifest: `
metadata:
  name: p
  version: 1.0.0
  author: a
  license: MIT
entrypoint: p.wasm
strategies: []
`,
		},
		{
			name: "strategy without compatibility",
			manifest: `
metadata:
  name: p
  version: 1.0.0
  author: a
  license: MIT
entrypoint: p.wasm
strategies:
  - name: s
    compatibility: []
`,
		},
		{
			name: "duplicate strategy names",
			manifest: `
metadata:
  name: p
  version: 1.0.0
  author: a
  license: MIT
entrypoint: p.wasm
strategies:
  - name: s
    compatibility:
      - source_type: a
        target_type: b
        event_type: c
  - name: s
    compatibility:
      - source_type: a
        target_type: b
        event_type: d
`,
		},
		{
			name: "invalid access level",
			manifest: `
metadata:
  name: p
  version: 1.0.0
  author: a
  license: MIT
entrypoint: p.wasm
strategies:
  - name: s
    compatibility:
      - source_type: a
        target_type: b
        event_type: c
    access_levels: [admin]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loader.LoadFromBytes([]byte(tt.manifest), nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestManifestChecksum(t *testing.T) {
	wasm := []byte("\x00asm fake module")
	hash := sha256.Sum256(wasm)
	checksum := hex.EncodeToString(hash[:])

	manifest := strings.Replace(sampleManifest, "entrypoint: aws-triggers.wasm",
		"entrypoint: aws-triggers.wasm\nchecksum: "+checksum, 1)

	loader := NewManifestLoader("")
	parsed, err := loader.LoadFromBytes([]byte(manifest), wasm)
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	if !parsed.Verified {
		t.Error("expected manifest to be verified")
	}

	if _, err := loader.LoadFromBytes([]byte(manifest), []byte("tampered")); err == nil {
		t.Error("expected checksum mismatch error")
	}
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Register(context.Background(), []byte(sampleManifest), []byte("\x00asm")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	keys := reg.List()
	if len(keys) != 1 || keys[0] != "aws-triggers@1.0.0" {
		t.Errorf("unexpected keys: %v", keys)
	}

	if err := reg.Register(context.Background(), []byte(sampleManifest), []byte("\x00asm")); err == nil {
		t.Error("expected duplicate registration error")
	}

	manifest, err := reg.Manifest("aws-triggers@1.0.0")
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if manifest.Raw.Metadata.Version != "1.0.0" {
		t.Errorf("unexpected version: %s", manifest.Raw.Metadata.Version)
	}

	if _, err := reg.Manifest("missing@0.0.1"); err == nil {
		t.Error("expected error for unknown plugin")
	}
}

func TestRegistryDiscover(t *testing.T) {
	dir, _ := writeManifestDir(t, sampleManifest, []byte("\x00asm"))
	reg := newTestRegistry(t)

	if err := reg.Discover(context.Background(), dir); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	keys := reg.List()
	if len(keys) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(keys))
	}
}
