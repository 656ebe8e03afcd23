package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleRego = `package loom.policies.sample

import rego.v1

deny contains msg if {
	input.plan
	some decision in input.plan.decisions
	decision.outcome == "replaced"
	msg := sprintf("%s replaced", [decision.current_id])
}`

func testLoaderPolicy() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()

	regoContent := "# Flags every planned replacement\n" + sampleRego
	policyFile := writePolicyFile(t, tmpDir, "flag-replacements.rego", regoContent)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "flag-replacements" {
		t.Errorf("Expected name 'flag-replacements', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Description != "Flags every planned replacement" {
		t.Errorf("Unexpected description: %q", policy.Description)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()

	policy := Policy{
		Name:        "flag-replacements",
		Description: "Flags every planned replacement",
		Rego:        sampleRego,
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"drift"},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	policyFile := writePolicyFile(t, tmpDir, "flag-replacements.json", string(data))

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Name != policy.Name {
		t.Errorf("Expected name '%s', got '%s'", policy.Name, loaded.Name)
	}
	if loaded.Severity != policy.Severity {
		t.Errorf("Expected severity '%s', got '%s'", policy.Severity, loaded.Severity)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()

	writePolicyFile(t, tmpDir, "policy1.rego", "package loom.p1\nimport rego.v1\ndeny contains msg if { false; msg := \"never\" }")
	writePolicyFile(t, tmpDir, "policy2.rego", "package loom.p2\nimport rego.v1\ndeny contains msg if { false; msg := \"never\" }")
	writePolicyFile(t, tmpDir, "README.md", "# not a policy")

	subDir := filepath.Join(tmpDir, "extra")
	if err := os.Mkdir(subDir, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}
	writePolicyFile(t, subDir, "policy3.rego", "package loom.p3\nimport rego.v1\ndeny contains msg if { false; msg := \"never\" }")

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(loaded) != 3 {
		t.Errorf("Expected 3 policies (including subdirectory), got %d", len(loaded))
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()

	dir1 := filepath.Join(tmpDir, "dir1")
	if err := os.Mkdir(dir1, 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	writePolicyFile(t, dir1, "policy1.rego", sampleRego)
	file1 := writePolicyFile(t, tmpDir, "policy2.rego", sampleRego)

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}

	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}
}

func TestLoadBundle(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()

	bundle := Bundle{
		Name:        "drift-guards",
		Version:     "1.0.0",
		Description: "Drift avoidance guard rails",
		Policies: []Policy{
			{
				Name:     "flag-replacements",
				Rego:     sampleRego,
				Severity: SeverityError,
				Enabled:  true,
			},
			{
				Name:     "flag-renames",
				Rego:     sampleRego,
				Severity: SeverityWarning,
				Enabled:  true,
			},
		},
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	bundleFile := writePolicyFile(t, tmpDir, "bundle.json", string(data))

	loaded, err := loader.LoadBundle(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}

	if loaded.Name != bundle.Name {
		t.Errorf("Expected bundle name '%s', got '%s'", bundle.Name, loaded.Name)
	}
	if loaded.Version != bundle.Version {
		t.Errorf("Expected version '%s', got '%s'", bundle.Version, loaded.Version)
	}
	if len(loaded.Policies) != len(bundle.Policies) {
		t.Errorf("Expected %d policies, got %d", len(bundle.Policies), len(loaded.Policies))
	}
}

func TestParseRegoMetadata(t *testing.T) {
	loader := testLoaderPolicy()

	tests := []struct {
		name         string
		content      string
		wantDesc     string
		wantSeverity Severity
		wantEnabled  bool
		wantTags     []string
	}{
		{
			name: "description only",
			content: `# Guards stateful resources
# against replacement
package loom.test`,
			wantDesc:     "Guards stateful resources against replacement",
			wantSeverity: SeverityWarning,
			wantEnabled:  true,
		},
		{
			name: "directives",
			content: `# Blocks replacement of stateful resources
# severity: critical
# tags: drift, stateful
package loom.test`,
			wantDesc:     "Blocks replacement of stateful resources",
			wantSeverity: SeverityCritical,
			wantEnabled:  true,
			wantTags:     []string{"drift", "stateful"},
		},
		{
			name: "disabled",
			content: `# enabled: false
package loom.test`,
			wantSeverity: SeverityWarning,
			wantEnabled:  false,
		},
		{
			name: "unknown directive is description",
			content: `# note: needs review before production
package loom.test`,
			wantDesc:     "note: needs review before production",
			wantSeverity: SeverityWarning,
			wantEnabled:  true,
		},
		{
			name: "comments after code are ignored",
			content: `package loom.test
# severity: critical`,
			wantSeverity: SeverityWarning,
			wantEnabled:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := loader.parseRegoFile("test.rego", []byte(tt.content))
			if err != nil {
				t.Fatalf("Failed to parse: %v", err)
			}
			if policy.Description != tt.wantDesc {
				t.Errorf("Expected description %q, got %q", tt.wantDesc, policy.Description)
			}
			if policy.Severity != tt.wantSeverity {
				t.Errorf("Expected severity %s, got %s", tt.wantSeverity, policy.Severity)
			}
			if policy.Enabled != tt.wantEnabled {
				t.Errorf("Expected enabled=%v, got %v", tt.wantEnabled, policy.Enabled)
			}
			if len(tt.wantTags) > 0 && !reflect.DeepEqual(policy.Tags, tt.wantTags) {
				t.Errorf("Expected tags %v, got %v", tt.wantTags, policy.Tags)
			}
		})
	}
}

func TestParseRegoMetadata_InvalidSeverity(t *testing.T) {
	loader := testLoaderPolicy()

	_, err := loader.parseRegoFile("test.rego", []byte("# severity: catastrophic\npackage loom.test"))
	if err == nil {
		t.Error("Expected error for unknown severity")
	}
}

func TestPolicyCache(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()
	policyFile := writePolicyFile(t, tmpDir, "cached.rego", sampleRego)

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestPolicyCache_InvalidatedOnModification(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()
	policyFile := writePolicyFile(t, tmpDir, "cached.rego", "# Old description\n"+sampleRego)

	first, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if first.Description != "Old description" {
		t.Fatalf("Unexpected description: %q", first.Description)
	}

	writePolicyFile(t, tmpDir, "cached.rego", "# New description\n"+sampleRego)
	newTime := time.Now().Add(time.Second)
	if err := os.Chtimes(policyFile, newTime, newTime); err != nil {
		t.Fatalf("Failed to bump mtime: %v", err)
	}

	second, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to reload policy: %v", err)
	}
	if second.Description != "New description" {
		t.Errorf("Expected reload to pick up the new content, got %q", second.Description)
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()
	policyFile := writePolicyFile(t, tmpDir, "policy.txt", "not a policy")

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()
	policyFile := writePolicyFile(t, tmpDir, "broken.json", "not json")

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	loader := testLoaderPolicy()

	if _, err := loader.loadFromPath(context.Background(), "/nonexistent/path"); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestLoadBundle_Rejections(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()

	tests := []struct {
		name   string
		bundle Bundle
	}{
		{
			name: "no name",
			bundle: Bundle{
				Policies: []Policy{{Name: "p1", Rego: sampleRego}},
			},
		},
		{
			name:   "no policies",
			bundle: Bundle{Name: "empty"},
		},
		{
			name: "duplicate policy names",
			bundle: Bundle{
				Name: "dupes",
				Policies: []Policy{
					{Name: "p1", Rego: sampleRego},
					{Name: "p1", Rego: sampleRego},
				},
			},
		},
		{
			name: "policy without rego",
			bundle: Bundle{
				Name:     "bodyless",
				Policies: []Policy{{Name: "p1"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.bundle)
			if err != nil {
				t.Fatalf("Failed to marshal bundle: %v", err)
			}
			bundleFile := writePolicyFile(t, tmpDir, "bundle.json", string(data))

			if _, err := loader.LoadBundle(context.Background(), bundleFile); err == nil {
				t.Error("Expected bundle to be rejected")
			}
		})
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	loader := testLoaderPolicy()
	tmpDir := t.TempDir()
	writePolicyFile(t, tmpDir, "watched.rego", sampleRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 1)
	err := loader.Watch(ctx, []string{tmpDir}, func(policies []Policy) error {
		select {
		case reloaded <- policies:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to start watching: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	writePolicyFile(t, tmpDir, "watched.rego", "# severity: critical\n"+sampleRego)
	writePolicyFile(t, tmpDir, "added.rego", sampleRego)

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("Expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}
