package tokenstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read when no token has been stored.
	ErrNotFound = errors.New("token not found")

	// ErrReadOnly is returned by Write and Delete on backends that cannot be modified.
	ErrReadOnly = errors.New("token storage is read-only")
)

// TokenStore reads and writes the single persisted token.
type TokenStore interface {
	// Read returns the stored token. Returns an error wrapping ErrNotFound if no
	// token is stored, or another error if the record exists but is unusable.
	Read(ctx context.Context) (string, error)

	// Write replaces the stored token. Returns error if storage backend
	// is read-only (e.g., environment variables) or if write operation fails.
	Write(ctx context.Context, token string) error

	// Delete removes the stored token. Deleting a missing token is not an error.
	Delete(ctx context.Context) error
}
