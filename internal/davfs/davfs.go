// Package davfs exposes a 123pan drive as a read-only webdav.FileSystem.
//
// Paths are resolved by walking folder listings from the drive root. Listings
// are cached for a configurable TTL so that the bursts of PROPFIND and GET
// requests WebDAV clients issue do not each hit the API. File content is
// streamed from short-lived download URLs using HTTP range requests.
package davfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/net/webdav"

	"github.com/florianilch/p123dav/internal/p123"
)

// Remote is the subset of the 123pan client the filesystem needs.
type Remote interface {
	ListFiles(ctx context.Context, parentID int64) ([]p123.File, error)
	DownloadURL(ctx context.Context, f p123.File) (string, error)
	Download(ctx context.Context, downloadURL string, offset int64) (io.ReadCloser, error)
}

// Option configures a FileSystem.
type Option func(*FileSystem)

// WithTTL sets how long folder listings are cached. Zero disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(fs *FileSystem) {
		fs.ttl = ttl
	}
}

// FileSystem is a read-only webdav.FileSystem backed by a 123pan drive.
type FileSystem struct {
	remote   Remote
	ttl      time.Duration
	listings *ristretto.Cache[int64, []p123.File]
}

// Compile-time check to ensure FileSystem implements webdav.FileSystem
var _ webdav.FileSystem = (*FileSystem)(nil)

// New creates a FileSystem over remote. Close releases the listing cache.
func New(remote Remote, opts ...Option) (*FileSystem, error) {
	if remote == nil {
		return nil, fmt.Errorf("missing remote")
	}

	fs := &FileSystem{remote: remote}
	for _, opt := range opts {
		opt(fs)
	}

	// Cost is the number of entries in a listing.
	cache, err := ristretto.NewCache(&ristretto.Config[int64, []p123.File]{
		NumCounters: 100_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize listing cache: %w", err)
	}
	fs.listings = cache

	return fs, nil
}

// Close releases the listing cache.
func (fs *FileSystem) Close() {
	fs.listings.Close()
}

// Mkdir is not supported.
func (fs *FileSystem) Mkdir(_ context.Context, name string, _ os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrPermission}
}

// RemoveAll is not supported.
func (fs *FileSystem) RemoveAll(_ context.Context, name string) error {
	return &os.PathError{Op: "remove", Path: name, Err: os.ErrPermission}
}

// Rename is not supported.
func (fs *FileSystem) Rename(_ context.Context, oldName, _ string) error {
	return &os.PathError{Op: "rename", Path: oldName, Err: os.ErrPermission}
}

// Stat returns the FileInfo of the entry at name.
func (fs *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	entry, err := fs.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return fileInfo{entry}, nil
}

// OpenFile opens the entry at name for reading. Any write flag is refused.
func (fs *FileSystem) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}

	entry, err := fs.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	if entry.IsFolder() {
		return &dirFile{ctx: ctx, fs: fs, entry: entry}, nil
	}
	return &remoteFile{ctx: ctx, remote: fs.remote, entry: entry}, nil
}

// root is the synthetic entry for the top of the drive.
var root = p123.File{FileID: p123.RootFolderID, FileName: "/", Type: p123.FileTypeFolder}

// resolve walks the folder listings from the drive root down to name.
func (fs *FileSystem) resolve(ctx context.Context, name string) (p123.File, error) {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return root, nil
	}

	current := root
	for _, segment := range strings.Split(strings.TrimPrefix(clean, "/"), "/") {
		if !current.IsFolder() {
			return p123.File{}, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
		}

		children, err := fs.list(ctx, current.FileID)
		if err != nil {
			return p123.File{}, &os.PathError{Op: "stat", Path: name, Err: err}
		}

		found := false
		for _, child := range children {
			if child.FileName == segment {
				current, found = child, true
				break
			}
		}
		if !found {
			return p123.File{}, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
		}
	}

	return current, nil
}

// list returns the entries of folder id, served from the cache while fresh.
func (fs *FileSystem) list(ctx context.Context, id int64) ([]p123.File, error) {
	if fs.ttl > 0 {
		if files, ok := fs.listings.Get(id); ok {
			return files, nil
		}
	}

	files, err := fs.remote.ListFiles(ctx, id)
	if err != nil {
		return nil, err
	}

	if fs.ttl > 0 {
		fs.listings.SetWithTTL(id, files, int64(len(files))+1, fs.ttl)
		// Make the listing visible to the next lookup of this request.
		fs.listings.Wait()
	}
	return files, nil
}
