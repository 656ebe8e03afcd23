package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudloom/loom/pkg/binder"
	"github.com/cloudloom/loom/pkg/identity"
)

const sampleDocument = `
stack:
  name: orders
  environment: production
  region: us-east-1

drift:
  enable_deterministic_naming: true
  preserve_resource_order: true
  blocked_resource_types:
    - database
  strategies:
    - name: preserve-queues
      priority: 10
      conditions:
        - type: resource-type
          operator: equals
          value: queue
      actions:
        - type: preserve-logical-id

bindings:
  - source: api
    target: orders-queue
    capability: enqueue
    event_type: order.created
    access: publish
    filter:
      region: us-east-1

store:
  path: loom.db
`

func testLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writeDocument(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write document: %v", err)
	}
	return path
}

func TestLoadYAMLDocument(t *testing.T) {
	loader := testLoader()
	path := writeDocument(t, "orders.yaml", sampleDocument)

	result, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	doc := result.Document
	if doc.Stack.Name != "orders" || doc.Stack.Environment != "production" {
		t.Errorf("unexpected stack: %+v", doc.Stack)
	}
	if !doc.Drift.EnableDeterministicNaming {
		t.Error("expected deterministic naming to be enabled")
	}
	if len(doc.Drift.Strategies) != 1 {
		t.Fatalf("expected 1 strategy, got %d", len(doc.Drift.Strategies))
	}
	if len(doc.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(doc.Bindings))
	}
	if result.SourceFile != path {
		t.Errorf("expected source file %s, got %s", path, result.SourceFile)
	}
}

func TestLoadCUEDocument(t *testing.T) {
	loader := testLoader()
	path := writeDocument(t, "orders.cue", `
stack: {
	name:        "orders"
	environment: "staging"
}
drift: {
	preserve_resource_order: true
}
`)

	result, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Document.Stack.Environment != "staging" {
		t.Errorf("unexpected environment: %s", result.Document.Stack.Environment)
	}
	if !result.Document.Drift.PreserveResourceOrder {
		t.Error("expected preserve_resource_order to be set")
	}
}

func TestLoadRejectsMissingStack(t *testing.T) {
	loader := testLoader()
	path := writeDocument(t, "bad.yaml", `
bindings:
  - source: api
    target: queue
    event_type: order.created
    access: publish
`)

	if _, err := loader.Load(context.Background(), path); err == nil {
		t.Error("expected error for document without stack")
	}
}

func TestLoadRejectsInvalidAccess(t *testing.T) {
	loader := testLoader()
	path := writeDocument(t, "bad-access.yaml", `
stack:
  name: orders
  environment: production
bindings:
  - source: api
    target: queue
    event_type: order.created
    access: admin
`)

	if _, err := loader.Load(context.Background(), path); err == nil {
		t.Error("expected error for invalid access level")
	}
}

func TestLoadRejectsUnsupportedExtension(t *testing.T) {
	loader := testLoader()
	path := writeDocument(t, "doc.toml", "stack = 1")

	if _, err := loader.Load(context.Background(), path); err == nil {
		t.Error("expected error for unsupported document type")
	}
}

func TestLoadCachesDocuments(t *testing.T) {
	loader := testLoader()
	path := writeDocument(t, "orders.yaml", sampleDocument)
	ctx := context.Background()

	first, err := loader.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := loader.Load(ctx, path)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if first != second {
		t.Error("expected cached result on second load")
	}

	loader.ClearCache()
	third, err := loader.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load after ClearCache failed: %v", err)
	}
	if first == third {
		t.Error("expected fresh result after ClearCache")
	}
}

func TestLoadFromPathsDirectory(t *testing.T) {
	loader := testLoader()
	dir := t.TempDir()

	files := map[string]string{
		"orders.yaml": sampleDocument,
		"billing.yml": `
stack:
  name: billing
  environment: production
`,
		"readme.md": "not a document",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	results, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 documents, got %d", len(results))
	}
}

func TestStrategyConversion(t *testing.T) {
	loader := testLoader()
	path := writeDocument(t, "orders.yaml", sampleDocument)

	result, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	strategies := result.Document.Drift.ToStrategies()
	if len(strategies) != 1 {
		t.Fatalf("expected 1 strategy, got %d", len(strategies))
	}
	s := strategies[0]
	if s.Name != "preserve-queues" || s.Priority != 10 {
		t.Errorf("unexpected strategy: %+v", s)
	}
	if s.Conditions[0].Type != identity.ConditionResourceType {
		t.Errorf("unexpected condition type: %s", s.Conditions[0].Type)
	}
	if s.Actions[0].Type != identity.ActionPreserveLogicalID {
		t.Errorf("unexpected action type: %s", s.Actions[0].Type)
	}

	cfg := result.Document.Drift.ToDriftAvoidance()
	if !cfg.EnableDeterministicNaming || !cfg.PreserveResourceOrder {
		t.Errorf("unexpected drift config: %+v", cfg)
	}
	if cfg.TypeAllowed("database") {
		t.Error("expected database to be blocked")
	}
}

func TestBindingDirectiveConversion(t *testing.T) {
	loader := testLoader()
	path := writeDocument(t, "orders.yaml", sampleDocument)

	result, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	directive, err := result.Document.Bindings[0].Directive()
	if err != nil {
		t.Fatalf("Directive failed: %v", err)
	}
	if directive.EventType != "order.created" {
		t.Errorf("unexpected event type: %s", directive.EventType)
	}
	if directive.Target.Component != "orders-queue" || directive.Target.Capability != "enqueue" {
		t.Errorf("unexpected target: %+v", directive.Target)
	}
	if directive.Access != binder.AccessPublish {
		t.Errorf("unexpected access: %s", directive.Access)
	}
	if directive.Filter["region"] != "us-east-1" {
		t.Errorf("unexpected filter: %+v", directive.Filter)
	}
}

func TestWatchReloadsDocumentOnChange(t *testing.T) {
	loader := testLoader()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "orders.yaml")
	if err := os.WriteFile(path, []byte(sampleDocument), 0o644); err != nil {
		t.Fatalf("failed to write document: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []*LoadResult, 1)
	err := loader.Watch(ctx, []string{tmpDir}, func(results []*LoadResult) error {
		select {
		case reloaded <- results:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	updated := strings.Replace(sampleDocument, "environment: production", "environment: staging", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to update document: %v", err)
	}

	select {
	case results := <-reloaded:
		if len(results) != 1 {
			t.Fatalf("expected 1 reloaded document, got %d", len(results))
		}
		if results[0].Document.Stack.Environment != "staging" {
			t.Errorf("expected reload to pick up the edit, got %q", results[0].Document.Stack.Environment)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
