package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/docket/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore
// implementation adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		snap := domain.NewSnapshot(sessionID)
		snap.Phase = domain.PhaseAsking
		snap.File = domain.FileRef{ID: sessionID, Name: "factura.pdf", Extension: ".pdf", Size: 1024}
		snap.Current = &domain.Question{ID: domain.FieldClient, Text: "¿Cliente?", Validation: domain.Validation{MinLength: 2}}
		snap.Draft = "Ac"
		snap.History = []domain.Question{{ID: domain.FieldDocType, Text: "¿Tipo?"}}
		snap.Answers[domain.FieldDocType] = "Factura"
		snap.Suggestion = "Acme"

		err := store.Save(ctx, sessionID, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, domain.PhaseAsking, loaded.Phase)
		assert.Equal(t, snap.File, loaded.File)
		require.NotNil(t, loaded.Current)
		assert.Equal(t, domain.FieldClient, loaded.Current.ID)
		assert.Equal(t, 2, loaded.Current.Validation.MinLength)
		assert.Equal(t, "Ac", loaded.Draft)
		require.Len(t, loaded.History, 1)
		assert.Equal(t, domain.FieldDocType, loaded.History[0].ID)
		assert.Equal(t, "Factura", loaded.Answers[domain.FieldDocType])
		assert.Equal(t, "Acme", loaded.Suggestion)
	})

	t.Run("Load is isolated from later mutation", func(t *testing.T) {
		snap := domain.NewSnapshot(sessionID)
		snap.Answers["k"] = "v"
		require.NoError(t, store.Save(ctx, sessionID, snap))

		snap.Answers["k"] = "mutated"

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "v", loaded.Answers["k"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.NewSnapshot(sessionID))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, id1, domain.NewSnapshot(id1))
		_ = store.Save(ctx, id2, domain.NewSnapshot(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
