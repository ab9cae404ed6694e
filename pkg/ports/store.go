package ports

import (
	"context"
	"time"

	"github.com/aretw0/docket/pkg/domain"
)

// SnapshotStore defines the interface for persisting session snapshots.
// This allows a session to survive restarts and to be served by several replicas.
type SnapshotStore interface {
	// Save persists the snapshot for a given session ID.
	Save(ctx context.Context, sessionID string, snap *domain.Snapshot) error

	// Load retrieves the snapshot for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Snapshot, error)

	// Delete removes the snapshot for a given session ID.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}

// Pruner is implemented by stores that can drop stale sessions themselves.
type Pruner interface {
	// Prune deletes sessions last written before cutoff and reports how many.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
