package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/cloudloom/loom/pkg/identity"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, stack, environment, status, started_at, completed_at, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.StackName,
		run.Environment,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Metadata,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, stack, environment, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.StackName,
		&run.Environment,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus updates the status of a run
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	var completedAt *time.Time
	if status == RunStatusCompleted || status == RunStatusFailed || status == RunStatusCancelled {
		now := time.Now()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListRuns lists runs with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, stack, environment, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.StackName,
			&run.Environment,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.Metadata,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// SaveIdentityMap persists an identity map as a single versioned JSON blob
// keyed by stack and environment. The write is transactional: the previous
// map remains intact if serialization or the upsert fails.
func (s *SQLiteStore) SaveIdentityMap(ctx context.Context, m *identity.LogicalIDMap) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize identity map: %w", err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO identity_maps (stack, environment, version, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(stack, environment) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, query,
		m.StackName,
		m.Environment,
		m.Version,
		string(payload),
		now,
		now,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to save identity map: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit identity map: %w", err)
	}

	return nil
}

// LoadIdentityMap retrieves the identity map for a stack and environment.
// Returns ErrNotFound when no map has been persisted yet.
func (s *SQLiteStore) LoadIdentityMap(ctx context.Context, stackName, environment string) (*identity.LogicalIDMap, error) {
	query := `
		SELECT payload
		FROM identity_maps
		WHERE stack = ? AND environment = ?
	`

	var payload string
	err := s.db.QueryRowContext(ctx, query, stackName, environment).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("identity map %s/%s: %w", stackName, environment, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity map: %w", err)
	}

	m := &identity.LogicalIDMap{}
	if err := json.Unmarshal([]byte(payload), m); err != nil {
		return nil, fmt.Errorf("failed to deserialize identity map: %w", err)
	}
	if m.Mappings == nil {
		m.Mappings = make(map[string]*identity.IdentityEntry)
	}

	return m, nil
}

// ListIdentityMaps lists persisted identity maps with pagination.
func (s *SQLiteStore) ListIdentityMaps(ctx context.Context, limit, offset int) ([]*IdentityMapRecord, error) {
	query := `
		SELECT stack, environment, version, payload, created_at, updated_at
		FROM identity_maps
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity maps: %w", err)
	}
	defer rows.Close()

	records := []*IdentityMapRecord{}
	for rows.Next() {
		rec := &IdentityMapRecord{}
		err := rows.Scan(
			&rec.StackName,
			&rec.Environment,
			&rec.Version,
			&rec.Payload,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity map record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identity maps: %w", err)
	}

	return records, nil
}

// DeleteIdentityMap removes the identity map for a stack and environment.
func (s *SQLiteStore) DeleteIdentityMap(ctx context.Context, stackName, environment string) error {
	query := `DELETE FROM identity_maps WHERE stack = ? AND environment = ?`

	result, err := s.db.ExecContext(ctx, query, stackName, environment)
	if err != nil {
		return fmt.Errorf("failed to delete identity map: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("identity map %s/%s: %w", stackName, environment, ErrNotFound)
	}

	return nil
}

// AcquireRunLock claims the stack/environment lock for a run. Returns
// ErrLockHeld when another run already holds it.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context, stackName, environment, runID string) error {
	query := `
		INSERT INTO run_locks (stack, environment, run_id, acquired_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, stackName, environment, runID, time.Now().UTC())
	if err != nil {
		existing, lockErr := s.GetRunLock(ctx, stackName, environment)
		if lockErr == nil && existing != nil {
			return fmt.Errorf("stack %s/%s locked by run %s: %w", stackName, environment, existing.RunID, ErrLockHeld)
		}
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}

	return nil
}

// ReleaseRunLock releases the lock held by the given run. Releasing a lock
// held by a different run is an error.
func (s *SQLiteStore) ReleaseRunLock(ctx context.Context, stackName, environment, runID string) error {
	query := `DELETE FROM run_locks WHERE stack = ? AND environment = ? AND run_id = ?`

	result, err := s.db.ExecContext(ctx, query, stackName, environment, runID)
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run lock %s/%s not held by run %s: %w", stackName, environment, runID, ErrNotFound)
	}

	return nil
}

// GetRunLock retrieves the current lock for a stack and environment.
func (s *SQLiteStore) GetRunLock(ctx context.Context, stackName, environment string) (*RunLock, error) {
	query := `
		SELECT stack, environment, run_id, acquired_at
		FROM run_locks
		WHERE stack = ? AND environment = ?
	`

	lock := &RunLock{}
	err := s.db.QueryRowContext(ctx, query, stackName, environment).Scan(
		&lock.StackName,
		&lock.Environment,
		&lock.RunID,
		&lock.AcquiredAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run lock %s/%s: %w", stackName, environment, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run lock: %w", err)
	}

	return lock, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
