package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	// fileLockTimeout bounds how long a mutation waits for another process holding the lock.
	fileLockTimeout = 10 * time.Second

	// fileLockRetryInterval is how often the lock is polled while waiting.
	fileLockRetryInterval = 10 * time.Millisecond
)

// FileStore provides atomic file-based token storage with secure permissions.
// Writes use temp file + rename for crash safety. Mutations hold an advisory
// lock on "<path>.lock" so processes sharing the file never interleave.
type FileStore struct {
	filePath string
	lock     *flock.Flock
}

// Compile-time check to ensure FileStore implements TokenStore
var _ TokenStore = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path. Parent directories are
// created lazily on the first write.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	return &FileStore{
		filePath: filePath,
		lock:     flock.New(filePath + ".lock"),
	}, nil
}

// Path returns the location of the token file.
func (f *FileStore) Path() string {
	return f.filePath
}

// Read returns the stored token after trimming whitespace. Returns ErrNotFound
// if the file doesn't exist, and an error if it is empty. A file readable by
// group or others is tightened to 0600 before it is read.
func (f *FileStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Check file permissions before reading
	info, err := os.Stat(f.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return "", err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		if err := os.Chmod(f.filePath, 0600); err != nil {
			return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600): %w", f.filePath, perm, err)
		}
		slog.WarnContext(ctx, "tightened token file permissions", "path", f.filePath, "was", fmt.Sprintf("%04o", perm))
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return "", err
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("empty token file %s", f.filePath)
	}
	return token, nil
}

// Write atomically replaces the token using temp file + rename for crash safety.
// Creates parent directories with 0700 and sets file permissions to 0600.
func (f *FileStore) Write(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	return f.withLock(ctx, func() error {
		// Create secure temp file in same directory for atomic rename
		tempFile, err := os.CreateTemp(dir, "*.tmp")
		if err != nil {
			return err
		}
		tempName := tempFile.Name()
		// Cleanup deferred for all exit paths
		defer func() { _ = os.Remove(tempName) }()
		defer func() { _ = tempFile.Close() }()

		if _, err := tempFile.WriteString(strings.TrimSpace(token)); err != nil {
			return err
		}
		if err := tempFile.Chmod(0600); err != nil {
			return err
		}
		if err := tempFile.Close(); err != nil {
			return err
		}

		return os.Rename(tempName, f.filePath)
	})
}

// Delete removes the token file. A missing file is not an error.
func (f *FileStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Dir(f.filePath)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return f.withLock(ctx, func() error {
		if err := os.Remove(f.filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

// withLock runs fn while holding the advisory lock file.
func (f *FileStore) withLock(ctx context.Context, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, fileLockTimeout)
	defer cancel()

	locked, err := f.lock.TryLockContext(lockCtx, fileLockRetryInterval)
	if err != nil {
		return fmt.Errorf("locking %s: %w", f.filePath, err)
	}
	if !locked {
		return fmt.Errorf("locking %s: lock held by another process", f.filePath)
	}
	defer func() { _ = f.lock.Unlock() }()

	return fn()
}
