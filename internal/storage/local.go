package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidName indicates a blob name that would escape the storage directory.
	ErrInvalidName = errors.New("storage: invalid blob name")
	// ErrBlobNotFound indicates the named blob has not been written.
	ErrBlobNotFound = errors.New("storage: blob not found")
)

// Local stores blobs as flat files inside a single directory.
type Local struct {
	dir string
}

// NewLocal prepares dir for use, creating it when missing.
func NewLocal(dir string) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("local storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Path returns the on-disk location of name.
func (l *Local) Path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, name), nil
}

// Exists reports whether name has been fully written.
func (l *Local) Exists(name string) (bool, error) {
	p, err := l.Path(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
	return info.Mode().IsRegular(), nil
}

// Put streams r into name. Readers never observe a partially written blob:
// content lands in a temporary file that is renamed into place once complete.
func (l *Local) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	p, err := l.Path(name)
	if err != nil {
		return 0, err
	}

	tmp := filepath.Join(l.dir, "."+name+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temp blob: %w", err)
	}

	n, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write blob %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("sync blob %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("close blob %s: %w", name, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("commit blob %s: %w", name, err)
	}
	return n, nil
}

// Open returns a read handle on name.
func (l *Local) Open(name string) (*os.File, error) {
	p, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", name, err)
	}
	return f, nil
}

// Remove deletes name. Removing a missing blob is not an error.
func (l *Local) Remove(name string) error {
	p, err := l.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", name, err)
	}
	return nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
