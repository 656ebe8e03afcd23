// Package ssh provides the SSH/SFTP transport used to push and pull
// identity-map snapshots to a remote backup host.
package ssh

import (
	"context"
	"time"
)

// Transport defines the operations needed for remote snapshot storage.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	// Returns an error if connection fails or authentication is rejected.
	Connect(ctx context.Context) error

	// Disconnect closes the SSH connection and releases all resources.
	Disconnect() error

	// IsConnected returns true if the transport has an active connection.
	IsConnected() bool

	// HealthCheck verifies the connection is still alive and responsive.
	HealthCheck(ctx context.Context) error

	// Push uploads a local snapshot file to the remote host and verifies
	// the uploaded bytes against a SHA256 checksum.
	Push(ctx context.Context, localPath string, remotePath string) (*SnapshotResult, error)

	// Pull downloads a remote snapshot file and verifies the downloaded
	// bytes against a SHA256 checksum.
	Pull(ctx context.Context, remotePath string, localPath string) (*SnapshotResult, error)

	// List returns the snapshots stored under a remote directory,
	// newest first.
	List(ctx context.Context, remoteDir string) ([]SnapshotInfo, error)

	// GetConnectionInfo returns information about the current connection.
	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port number
	Port int

	// User is the SSH username
	User string

	// ConnectedAt is when the connection was established
	ConnectedAt time.Time

	// LastActivity is when the connection was last used
	LastActivity time.Time
}

// SnapshotResult represents the outcome of a completed push or pull.
type SnapshotResult struct {
	// LocalPath is the snapshot file on the local side
	LocalPath string

	// RemotePath is the snapshot file on the remote side
	RemotePath string

	// Bytes is the number of bytes transferred
	Bytes int64

	// Checksum is the verified SHA256 checksum of the snapshot
	Checksum string

	// Duration is the time taken for the transfer
	Duration time.Duration
}

// SnapshotInfo describes one snapshot found on the remote host.
type SnapshotInfo struct {
	// Name is the snapshot file name
	Name string

	// Path is the full remote path
	Path string

	// Size is the file size in bytes
	Size int64

	// ModTime is the remote modification time
	ModTime time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "push", "pull")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
