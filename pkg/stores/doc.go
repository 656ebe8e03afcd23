// Package stores provides persistence layer implementations for Loom.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and operations for synthesis runs, identity maps, run locks, and
// audit logs.
package stores
