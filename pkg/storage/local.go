package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// MediaPrefix is the URL path under which the HTTP server serves local objects.
const MediaPrefix = "/media"

// Local stores objects as files for offline deployments. SignedGet returns a static
// URL under MediaPrefix instead of a signed one.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates the media directory if needed.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory to serve at MediaPrefix.
func (l *Local) Dir() string { return l.dir }

func (l *Local) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(l.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Put writes body to a temporary file and renames it into place.
func (l *Local) Put(ctx context.Context, key, _ string, body io.Reader, _ int64) error {
	dst, err := l.pathFor(key)
	if err != nil {
		return storageErr("put", key, err)
	}
	if err := ctx.Err(); err != nil {
		return storageErr("put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return storageErr("put", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return storageErr("put", key, err)
	}
	_, err = io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return storageErr("put", key, err)
	}
	return nil
}

// SignedGet returns the public URL of key; ttl does not apply to local media.
func (l *Local) SignedGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, err := l.pathFor(key); err != nil {
		return "", storageErr("presign", key, err)
	}
	return l.baseURL + MediaPrefix + "/" + strings.TrimPrefix(key, "/"), nil
}

// Delete removes the file for key; missing files are not an error.
func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.pathFor(key)
	if err != nil {
		return storageErr("delete", key, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageErr("delete", key, err)
	}
	return nil
}
