package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudloom/loom/pkg/identity"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tables := []string{"runs", "identity_maps", "run_locks", "audit"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestRunCRUD tests Run record operations
func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	run := &Run{
		ID:          "run-001",
		StackName:   "orders",
		Environment: "test",
		Status:      RunStatusPending,
		StartedAt:   now,
		Metadata:    `{"trigger":"cli"}`,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if retrieved.ID != run.ID {
		t.Errorf("expected ID %s, got %s", run.ID, retrieved.ID)
	}
	if retrieved.StackName != run.StackName {
		t.Errorf("expected StackName %s, got %s", run.StackName, retrieved.StackName)
	}
	if retrieved.Status != run.Status {
		t.Errorf("expected Status %s, got %s", run.Status, retrieved.Status)
	}

	errMsg := "identity conflict"
	if err := store.UpdateRunStatus(ctx, run.ID, RunStatusFailed, &errMsg); err != nil {
		t.Fatalf("failed to update run status: %v", err)
	}

	updated, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get updated run: %v", err)
	}
	if updated.Status != RunStatusFailed {
		t.Errorf("expected status %s, got %s", RunStatusFailed, updated.Status)
	}
	if updated.Error == nil || *updated.Error != errMsg {
		t.Errorf("expected error %q, got %v", errMsg, updated.Error)
	}
	if updated.CompletedAt == nil {
		t.Error("expected CompletedAt to be set on terminal status")
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestIdentityMapRoundTrip tests saving and loading identity maps
func TestIdentityMapRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	m := identity.NewLogicalIDMap("orders", "production", identity.DriftAvoidanceConfig{
		EnableDeterministicNaming: true,
		BlockedResourceTypes:      []string{"database"},
	})
	m.Mappings["orders-queue-1"] = &identity.IdentityEntry{
		OriginalID:   "orders-queue-1",
		NewID:        "orders-queue-1",
		ResourceType: "queue",
		Preservation: identity.PreservationExactMatch,
	}

	if err := store.SaveIdentityMap(ctx, m); err != nil {
		t.Fatalf("failed to save identity map: %v", err)
	}

	loaded, err := store.LoadIdentityMap(ctx, "orders", "production")
	if err != nil {
		t.Fatalf("failed to load identity map: %v", err)
	}

	if loaded.StackName != "orders" || loaded.Environment != "production" {
		t.Errorf("unexpected map identity: %s/%s", loaded.StackName, loaded.Environment)
	}
	if loaded.Version != identity.MapVersion {
		t.Errorf("expected version %s, got %s", identity.MapVersion, loaded.Version)
	}
	if !loaded.Config.EnableDeterministicNaming {
		t.Error("config lost on round trip")
	}
	entry := loaded.Mappings["orders-queue-1"]
	if entry == nil {
		t.Fatal("entry lost on round trip")
	}
	if entry.Preservation != identity.PreservationExactMatch {
		t.Errorf("expected exact-match preservation, got %s", entry.Preservation)
	}
}

// TestIdentityMapUpsert tests that saving twice updates in place
func TestIdentityMapUpsert(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	m := identity.NewLogicalIDMap("orders", "test", identity.DriftAvoidanceConfig{})
	if err := store.SaveIdentityMap(ctx, m); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	m.Mappings["fn-1"] = &identity.IdentityEntry{
		OriginalID:   "fn-1",
		NewID:        "fn-1",
		ResourceType: "function",
		Preservation: identity.PreservationExactMatch,
	}
	if err := store.SaveIdentityMap(ctx, m); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	records, err := store.ListIdentityMaps(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list identity maps: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after upsert, got %d", len(records))
	}

	loaded, err := store.LoadIdentityMap(ctx, "orders", "test")
	if err != nil {
		t.Fatalf("failed to load identity map: %v", err)
	}
	if len(loaded.Mappings) != 1 {
		t.Errorf("expected 1 mapping, got %d", len(loaded.Mappings))
	}
}

func TestLoadIdentityMapNotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.LoadIdentityMap(context.Background(), "missing", "test")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestRunLock tests the run lock lifecycle
func TestRunLock(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.AcquireRunLock(ctx, "orders", "test", "run-1"); err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}

	// A second run cannot claim the same stack
	err := store.AcquireRunLock(ctx, "orders", "test", "run-2")
	if !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}

	// A different environment is unaffected
	if err := store.AcquireRunLock(ctx, "orders", "staging", "run-2"); err != nil {
		t.Errorf("different environment should lock independently: %v", err)
	}

	lock, err := store.GetRunLock(ctx, "orders", "test")
	if err != nil {
		t.Fatalf("failed to get lock: %v", err)
	}
	if lock.RunID != "run-1" {
		t.Errorf("expected lock held by run-1, got %s", lock.RunID)
	}

	// The wrong run cannot release it
	if err := store.ReleaseRunLock(ctx, "orders", "test", "run-2"); err == nil {
		t.Error("expected error releasing lock held by a different run")
	}

	if err := store.ReleaseRunLock(ctx, "orders", "test", "run-1"); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}

	// Lock can be re-acquired after release
	if err := store.AcquireRunLock(ctx, "orders", "test", "run-3"); err != nil {
		t.Errorf("failed to re-acquire released lock: %v", err)
	}
}

// TestAuditEntries tests audit trail operations
func TestAuditEntries(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	targetID := "run-001"
	entry := &AuditEntry{
		Action:    "run.created",
		Actor:     "cli",
		TargetID:  &targetID,
		Timestamp: time.Now(),
	}

	if err := store.CreateAuditEntry(ctx, entry); err != nil {
		t.Fatalf("failed to create audit entry: %v", err)
	}
	if entry.ID == 0 {
		t.Error("expected auto-generated audit entry ID")
	}

	action := "run.created"
	entries, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Actor != "cli" {
		t.Errorf("expected actor cli, got %s", entries[0].Actor)
	}

	other := "run.deleted"
	entries, err = store.ListAuditEntries(ctx, &other, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list filtered audit entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected 0 entries for unmatched action, got %d", len(entries))
	}
}
