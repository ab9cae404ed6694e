package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/docket/pkg/domain"
)

const (
	ext       = ".json"
	tmpPrefix = "tmp-"
)

// ErrInvalidID is returned for session IDs that cannot name a file in the store.
var ErrInvalidID = errors.New("invalid session id")

// Store implements ports.SnapshotStore with one JSON document per session.
// Writes go through a temporary file and a rename, so a crash never leaves a
// half-written snapshot behind.
type Store struct {
	BasePath string
}

// New creates a Store rooted at basePath (".docket/sessions" when empty).
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".docket", "sessions")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) || strings.HasPrefix(sessionID, tmpPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, sessionID)
	}
	return filepath.Join(s.BasePath, sessionID+ext), nil
}

// Save writes the snapshot atomically.
func (s *Store) Save(ctx context.Context, sessionID string, snap *domain.Snapshot) error {
	dest, err := s.path(sessionID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	// Same directory as dest so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(s.BasePath, tmpPrefix+sessionID+"-*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name()) // no-op once renamed
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	// Windows refuses to rename over an existing file.
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// Load reads a snapshot back.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	p, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", sessionID, err)
	}
	if snap.Answers == nil {
		snap.Answers = make(map[string]string)
	}
	return &snap, nil
}

// Delete removes the session file. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	p, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// entry is one stored session and when it last changed.
type entry struct {
	id      string
	path    string
	updated time.Time
}

// scan reads every session file. Temporary and foreign files are skipped.
func (s *Store) scan() (sessions []entry, leftovers []entry, err error) {
	dirents, err := os.ReadDir(s.BasePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, d := range dirents {
		name := d.Name()
		if d.IsDir() || filepath.Ext(name) != ext {
			continue
		}
		e := entry{id: strings.TrimSuffix(name, ext), path: filepath.Join(s.BasePath, name)}
		info, err := d.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		e.updated = info.ModTime()
		if strings.HasPrefix(name, tmpPrefix) {
			leftovers = append(leftovers, e)
			continue
		}
		if t := updatedAt(e.path); !t.IsZero() {
			e.updated = t
		}
		sessions = append(sessions, e)
	}
	return sessions, leftovers, nil
}

// updatedAt reads only the snapshot's timestamp. Encrypted snapshots keep it
// in clear, so this works through the encryption middleware as well.
func updatedAt(p string) time.Time {
	data, err := os.ReadFile(p)
	if err != nil {
		return time.Time{}
	}
	var head struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return time.Time{}
	}
	return head.UpdatedAt
}

// List returns the stored session IDs, most recently updated first.
// Snapshots without a timestamp fall back to the file's modification time.
func (s *Store) List(ctx context.Context) ([]string, error) {
	sessions, _, err := s.scan()
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(sessions, func(a, b entry) int {
		if c := b.updated.Compare(a.updated); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})

	ids := make([]string, 0, len(sessions))
	for _, e := range sessions {
		ids = append(ids, e.id)
	}
	return ids, nil
}

// Prune deletes sessions last updated before cutoff, along with temporary
// files a crashed Save left behind, and returns how many sessions went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	sessions, leftovers, err := s.scan()
	if err != nil {
		return 0, err
	}
	for _, e := range leftovers {
		if e.updated.Before(cutoff) {
			_ = os.Remove(e.path)
		}
	}

	var n int64
	for _, e := range sessions {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !e.updated.Before(cutoff) {
			continue
		}
		if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return n, fmt.Errorf("failed to prune session %s: %w", e.id, err)
		}
		n++
	}
	return n, nil
}
