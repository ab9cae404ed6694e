package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/docket/internal/backend/catalog"
	"github.com/aretw0/docket/internal/presentation/graph"
	"github.com/aretw0/docket/pkg/ports"
	"github.com/aretw0/docket/pkg/runner"
	"github.com/aretw0/docket/pkg/validation"
)

// LoadCatalog reads path, or returns the built-in catalog when path is empty.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

// Validate checks one answer offline with the same rules the session applies
// before calling the backend. It reports whether the answer is valid.
func Validate(w io.Writer, cat *catalog.Catalog, questionID, answer string) (bool, error) {
	q, err := cat.Get(questionID)
	if err != nil {
		return false, fmt.Errorf("%w (known: %s)", err, strings.Join(cat.IDs(), ", "))
	}

	clean, err := runner.SanitizeInput(answer)
	if err != nil {
		return false, err
	}
	res := validation.Validate(clean, q)
	if res.Valid {
		fmt.Fprintf(w, "✓ %s: %q\n", q.ID, strings.TrimSpace(clean))
		return true, nil
	}

	fmt.Fprintf(w, "✗ %s: %s\n", q.ID, res.Reason)
	if s, ok := validation.Suggest(clean, q); ok {
		fmt.Fprintf(w, "  ¿Quisiste decir %q?\n", s)
	}
	return false, nil
}

// Graph writes the Mermaid flowchart of the catalog. With a session ID the
// session's progress is highlighted.
func Graph(ctx context.Context, w io.Writer, cat *catalog.Catalog, store ports.SnapshotStore, sessionID string) error {
	var overlay *graph.Overlay
	if sessionID != "" {
		snap, err := store.Load(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load session %q: %w", sessionID, err)
		}
		overlay = graph.OverlayFor(snap)
	}
	_, err := io.WriteString(w, graph.GenerateMermaid(cat.Questions, overlay))
	return err
}
