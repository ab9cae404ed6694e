package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local writes documents under a root directory.
type Local struct {
	root string
}

// NewLocal creates a sink rooted at dir.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{root: dir}, nil
}

// Root returns the sink directory.
func (l *Local) Root() string {
	return l.root
}

// Put writes r atomically to root/dir/name.
func (l *Local) Put(ctx context.Context, dir, name string, r io.Reader) (Object, error) {
	dest, err := cleanDest(dir, name)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	full := filepath.Join(l.root, filepath.FromSlash(dest))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return Object{}, fmt.Errorf("failed to create folder: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "tmp-*")
	if err != nil {
		return Object{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("failed to close document: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return Object{}, fmt.Errorf("failed to move document into place: %w", err)
	}

	return Object{Path: dest, Name: name, Size: n}, nil
}
