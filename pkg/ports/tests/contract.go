package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/ports"
)

// BackendFixture describes a staged file and the answers a backend under test
// should accept and reject.
type BackendFixture struct {
	// File must already be staged on the backend.
	File domain.FileRef
	// Valid maps question IDs to answers the backend accepts.
	Valid map[string]string
	// Invalid maps question IDs to answers the backend rejects.
	Invalid map[string]string
}

// BackendContractTest is a reusable test suite that verifies if an adapter complies with ports.Backend.
// It walks the question sequence once, checking rejections along the way.
func BackendContractTest(t *testing.T, backend ports.Backend, fx BackendFixture) {
	t.Helper()
	ctx := context.Background()

	var first domain.Question

	// 1. Start
	t.Run("Start", func(t *testing.T) {
		q, err := backend.Start(ctx, fx.File)
		if err != nil {
			t.Fatalf("unexpected error starting: %v", err)
		}
		if q.ID == "" || q.Text == "" {
			t.Fatalf("incomplete first question: %+v", q)
		}
		first = q
	})
	if first.ID == "" {
		return
	}

	// 2. Walk the sequence
	t.Run("Answer_Sequence", func(t *testing.T) {
		current := first
		seen := map[string]bool{}
		for {
			if seen[current.ID] {
				t.Fatalf("question %s asked twice", current.ID)
			}
			seen[current.ID] = true

			if bad, ok := fx.Invalid[current.ID]; ok {
				_, err := backend.Answer(ctx, fx.File, current.ID, bad)
				var rej *domain.RejectionError
				if !errors.As(err, &rej) {
					t.Fatalf("expected rejection for %s=%q, got %v", current.ID, bad, err)
				}
				if rej.Reason == "" {
					t.Errorf("rejection for %s carries no reason", current.ID)
				}
			}

			good, ok := fx.Valid[current.ID]
			if !ok {
				t.Fatalf("fixture has no valid answer for %s", current.ID)
			}
			out, err := backend.Answer(ctx, fx.File, current.ID, good)
			if err != nil {
				t.Fatalf("unexpected error answering %s: %v", current.ID, err)
			}
			if out.Completed {
				break
			}
			if out.Next == nil {
				t.Fatalf("answer to %s neither completed nor returned a next question", current.ID)
			}
			current = *out.Next
		}
	})

	// 3. GeneratePath
	t.Run("GeneratePath", func(t *testing.T) {
		p, err := backend.GeneratePath(ctx, fx.File, fx.Valid, fx.File.Extension)
		if err != nil {
			t.Fatalf("unexpected error generating path: %v", err)
		}
		if p.Name == "" || p.Path == "" {
			t.Errorf("incomplete proposal: %+v", p)
		}
	})
}
