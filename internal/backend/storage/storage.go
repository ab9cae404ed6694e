// Package storage moves confirmed documents to their final destination.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrInvalidPath is returned for a destination that escapes the sink root.
var ErrInvalidPath = errors.New("invalid destination path")

// Object describes a stored document.
type Object struct {
	Path string // full destination path, slash separated, with leading slash
	Name string
	Size int64
}

// Sink is a destination for confirmed documents.
type Sink interface {
	Put(ctx context.Context, dir, name string, r io.Reader) (Object, error)
}

// cleanDest joins dir and name into an absolute slash path.
func cleanDest(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: name %q", ErrInvalidPath, name)
	}
	for _, seg := range strings.Split(strings.ReplaceAll(dir, `\`, "/"), "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: dir %q", ErrInvalidPath, dir)
		}
	}
	return path.Join("/", dir, name), nil
}
