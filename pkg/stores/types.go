package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cloudloom/loom/pkg/identity"
)

// RunStatus represents the status of a synthesis run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ErrLockHeld is returned when a run lock is already held for a stack.
var ErrLockHeld = errors.New("run lock already held")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Run represents a synthesis run
type Run struct {
	ID          string     `json:"id"`
	StackName   string     `json:"stack"`
	Environment string     `json:"environment"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IdentityMapRecord is the persisted form of a logical identifier map.
type IdentityMapRecord struct {
	StackName   string    `json:"stack"`
	Environment string    `json:"environment"`
	Version     string    `json:"version"`
	Payload     string    `json:"payload"` // JSON blob of identity.LogicalIDMap
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunLock guards a stack/environment pair against concurrent runs.
type RunLock struct {
	StackName   string    `json:"stack"`
	Environment string    `json:"environment"`
	RunID       string    `json:"run_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "run.created", "identity_map.saved"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // run/stack/etc ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Identity map operations
	SaveIdentityMap(ctx context.Context, m *identity.LogicalIDMap) error
	LoadIdentityMap(ctx context.Context, stackName, environment string) (*identity.LogicalIDMap, error)
	ListIdentityMaps(ctx context.Context, limit, offset int) ([]*IdentityMapRecord, error)
	DeleteIdentityMap(ctx context.Context, stackName, environment string) error

	// Run lock operations
	AcquireRunLock(ctx context.Context, stackName, environment, runID string) error
	ReleaseRunLock(ctx context.Context, stackName, environment, runID string) error
	GetRunLock(ctx context.Context, stackName, environment string) (*RunLock, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
