package davfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"time"

	"golang.org/x/net/webdav"

	"github.com/florianilch/p123dav/internal/p123"
)

var errIsDirectory = errors.New("is a directory")

// fileInfo adapts a listing entry to fs.FileInfo.
type fileInfo struct {
	entry p123.File
}

// Compile-time checks to ensure fileInfo answers ETag and content type lookups itself
var (
	_ webdav.ETager       = fileInfo{}
	_ webdav.ContentTyper = fileInfo{}
)

func (fi fileInfo) Name() string       { return fi.entry.FileName }
func (fi fileInfo) Size() int64        { return fi.entry.Size }
func (fi fileInfo) ModTime() time.Time { return fi.entry.ModTime() }
func (fi fileInfo) IsDir() bool        { return fi.entry.IsFolder() }
func (fi fileInfo) Sys() any           { return nil }

func (fi fileInfo) Mode() fs.FileMode {
	if fi.entry.IsFolder() {
		return fs.ModeDir | 0555
	}
	return 0444
}

// ETag returns the content hash reported by the drive.
func (fi fileInfo) ETag(_ context.Context) (string, error) {
	if fi.entry.IsFolder() || fi.entry.Etag == "" {
		return "", webdav.ErrNotImplemented
	}
	return fmt.Sprintf("%q", fi.entry.Etag), nil
}

// ContentType is derived from the extension only. Without it the WebDAV
// handler sniffs content, downloading every file a PROPFIND lists.
func (fi fileInfo) ContentType(_ context.Context) (string, error) {
	if ct := mime.TypeByExtension(path.Ext(fi.entry.FileName)); ct != "" {
		return ct, nil
	}
	return "application/octet-stream", nil
}

// dirFile is an open folder.
type dirFile struct {
	ctx    context.Context
	fs     *FileSystem
	entry  p123.File
	offset int
}

var _ webdav.File = (*dirFile)(nil)

func (d *dirFile) Close() error { return nil }

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: d.entry.FileName, Err: errIsDirectory}
}

func (d *dirFile) Write([]byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.entry.FileName, Err: os.ErrPermission}
}

func (d *dirFile) Seek(int64, int) (int64, error) {
	return 0, &os.PathError{Op: "seek", Path: d.entry.FileName, Err: errIsDirectory}
}

func (d *dirFile) Stat() (fs.FileInfo, error) {
	return fileInfo{d.entry}, nil
}

// Readdir follows os.File semantics: count <= 0 returns all remaining
// entries, otherwise at most count entries and io.EOF once exhausted.
func (d *dirFile) Readdir(count int) ([]fs.FileInfo, error) {
	children, err := d.fs.list(d.ctx, d.entry.FileID)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: d.entry.FileName, Err: err}
	}

	if d.offset >= len(children) {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}

	remaining := children[d.offset:]
	if count > 0 && count < len(remaining) {
		remaining = remaining[:count]
	}
	d.offset += len(remaining)

	infos := make([]fs.FileInfo, len(remaining))
	for i, child := range remaining {
		infos[i] = fileInfo{child}
	}
	return infos, nil
}

// remoteFile streams file content from the drive. The download URL is fetched
// on first read; seeking only moves the offset and drops the open stream.
type remoteFile struct {
	ctx    context.Context
	remote Remote
	entry  p123.File

	offset      int64
	body        io.ReadCloser
	downloadURL string
}

var _ webdav.File = (*remoteFile)(nil)

func (f *remoteFile) Read(p []byte) (int, error) {
	if f.offset >= f.entry.Size {
		return 0, io.EOF
	}

	if f.body == nil {
		if f.downloadURL == "" {
			u, err := f.remote.DownloadURL(f.ctx, f.entry)
			if err != nil {
				return 0, &os.PathError{Op: "read", Path: f.entry.FileName, Err: err}
			}
			f.downloadURL = u
		}

		body, err := f.remote.Download(f.ctx, f.downloadURL, f.offset)
		if err != nil {
			return 0, &os.PathError{Op: "read", Path: f.entry.FileName, Err: err}
		}
		f.body = body
	}

	n, err := f.body.Read(p)
	f.offset += int64(n)
	return n, err
}

func (f *remoteFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = f.entry.Size + offset
	default:
		return 0, &os.PathError{Op: "seek", Path: f.entry.FileName, Err: os.ErrInvalid}
	}
	if abs < 0 {
		return 0, &os.PathError{Op: "seek", Path: f.entry.FileName, Err: os.ErrInvalid}
	}

	if abs != f.offset {
		f.closeBody()
		f.offset = abs
	}
	return abs, nil
}

func (f *remoteFile) Close() error {
	f.closeBody()
	return nil
}

func (f *remoteFile) closeBody() {
	if f.body != nil {
		_ = f.body.Close()
		f.body = nil
	}
}

func (f *remoteFile) Readdir(int) ([]fs.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.entry.FileName, Err: errors.New("not a directory")}
}

func (f *remoteFile) Stat() (fs.FileInfo, error) {
	return fileInfo{f.entry}, nil
}

func (f *remoteFile) Write([]byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.entry.FileName, Err: os.ErrPermission}
}
