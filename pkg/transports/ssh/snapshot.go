package ssh

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
)

// SnapshotName returns the remote file name for an identity-map snapshot
// taken at the given time.
func SnapshotName(stack string, environment string, t time.Time) string {
	return fmt.Sprintf("loom-%s-%s-%s.db", stack, environment, t.UTC().Format("20060102T150405"))
}

// IsSnapshotName reports whether a file name follows the snapshot naming
// convention.
func IsSnapshotName(name string) bool {
	return strings.HasPrefix(name, "loom-") && strings.HasSuffix(name, ".db")
}

// Push uploads a local snapshot file to the remote host. The uploaded
// bytes are re-read from the remote side and verified against the local
// SHA256 checksum before the push is reported successful.
func (c *Client) Push(ctx context.Context, localPath string, remotePath string) (*SnapshotResult, error) {
	startTime := time.Now()

	c.logger.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("pushing snapshot")

	localFile, err := os.Open(localPath)
	if err != nil {
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("failed to open local snapshot: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	defer localFile.Close()

	sftpClient, err := c.newSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("failed to create remote directory: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("failed to create remote snapshot: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	sum := sha256.New()
	written, err := copyWithContext(ctx, remoteFile, io.TeeReader(localFile, sum))
	closeErr := remoteFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("failed to write remote snapshot: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	localSum := fmt.Sprintf("%x", sum.Sum(nil))
	remoteSum, err := remoteChecksum(ctx, sftpClient, remotePath)
	if err != nil {
		return nil, err
	}
	if remoteSum != localSum {
		return nil, &TransportError{
			Op:          "push",
			Err:         fmt.Errorf("checksum mismatch after upload: local %s, remote %s", localSum, remoteSum),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	result := &SnapshotResult{
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      written,
		Checksum:   localSum,
		Duration:   time.Since(startTime),
	}

	c.logger.Info().
		Str("remote", remotePath).
		Int64("bytes", written).
		Str("checksum", localSum).
		Dur("duration", result.Duration).
		Msg("snapshot pushed")

	return result, nil
}

// Pull downloads a remote snapshot file. The remote bytes are hashed
// before the transfer and the downloaded bytes verified against that
// checksum.
func (c *Client) Pull(ctx context.Context, remotePath string, localPath string) (*SnapshotResult, error) {
	startTime := time.Now()

	c.logger.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Msg("pulling snapshot")

	sftpClient, err := c.newSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	remoteSum, err := remoteChecksum(ctx, sftpClient, remotePath)
	if err != nil {
		return nil, err
	}

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "pull",
			Err:         fmt.Errorf("failed to open remote snapshot: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return nil, &TransportError{
			Op:          "pull",
			Err:         fmt.Errorf("failed to create local directory: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	localFile, err := os.Create(localPath)
	if err != nil {
		return nil, &TransportError{
			Op:          "pull",
			Err:         fmt.Errorf("failed to create local snapshot: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	sum := sha256.New()
	written, err := copyWithContext(ctx, io.MultiWriter(localFile, sum), remoteFile)
	closeErr := localFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, &TransportError{
			Op:          "pull",
			Err:         fmt.Errorf("failed to write local snapshot: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	localSum := fmt.Sprintf("%x", sum.Sum(nil))
	if localSum != remoteSum {
		return nil, &TransportError{
			Op:          "pull",
			Err:         fmt.Errorf("checksum mismatch after download: remote %s, local %s", remoteSum, localSum),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	result := &SnapshotResult{
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      written,
		Checksum:   localSum,
		Duration:   time.Since(startTime),
	}

	c.logger.Info().
		Str("remote", remotePath).
		Int64("bytes", written).
		Str("checksum", localSum).
		Dur("duration", result.Duration).
		Msg("snapshot pulled")

	return result, nil
}

// List returns the snapshots stored under a remote directory, newest first.
func (c *Client) List(ctx context.Context, remoteDir string) ([]SnapshotInfo, error) {
	sftpClient, err := c.newSFTPClient()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	entries, err := sftpClient.ReadDir(remoteDir)
	if err != nil {
		return nil, &TransportError{
			Op:          "list",
			Err:         fmt.Errorf("failed to read remote directory: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	snapshots := make([]SnapshotInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsSnapshotName(entry.Name()) {
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{
			Name:    entry.Name(),
			Path:    path.Join(remoteDir, entry.Name()),
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ModTime.After(snapshots[j].ModTime)
	})

	return snapshots, nil
}

// newSFTPClient creates a new SFTP client over the active connection.
func (c *Client) newSFTPClient() (*sftp.Client, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return sftpClient, nil
}

// remoteChecksum streams a remote file through SHA256.
func remoteChecksum(ctx context.Context, sftpClient *sftp.Client, remotePath string) (string, error) {
	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", &TransportError{
			Op:          "checksum",
			Err:         fmt.Errorf("failed to open remote snapshot: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer remoteFile.Close()

	sum := sha256.New()
	if _, err := copyWithContext(ctx, sum, remoteFile); err != nil {
		return "", &TransportError{
			Op:          "checksum",
			Err:         fmt.Errorf("failed to read remote snapshot: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return fmt.Sprintf("%x", sum.Sum(nil)), nil
}

// localChecksum hashes a local file with SHA256.
func localChecksum(localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", sum.Sum(nil)), nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
