// Package staging holds uploaded source files on local disk until their job finishes.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Folder is the subdirectory (and key prefix) holding staged uploads.
const Folder = "temp"

// Store stages uploads under <baseDir>/temp with unique generated names.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New creates the staging directory if needed.
func New(baseDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(baseDir, Folder)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the directory staged files live in.
func (s *Store) Dir() string { return s.dir }

// Stage copies r into a new file and returns its generated name and the bytes written.
// A partially written file is removed before returning an error.
func (s *Store) Stage(ctx context.Context, r io.Reader, originalName string) (string, int64, error) {
	name := uuid.New().String() + safeExt(originalName)
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("create staged file: %w", err)
	}
	n, err := io.Copy(f, readerWithContext(ctx, r))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write staged file: %w", err)
	}
	s.logger.Debug("upload staged", zap.String("staged", name), zap.Int64("size", n))
	return name, n, nil
}

// Path returns the absolute location of a staged file.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Remove deletes a staged file. Removing a file that is already gone is an error.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("staged file %s already removed: %w", name, err)
		}
		return fmt.Errorf("remove staged file: %w", err)
	}
	return nil
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
