package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/docket/pkg/adapters/memory"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/ports"
	"github.com/aretw0/docket/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	data map[string]*domain.Snapshot
	mu   sync.Mutex
}

func (s *SlowStore) Save(ctx context.Context, sessionID string, snap *domain.Snapshot) error {
	time.Sleep(10 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string]*domain.Snapshot)
	}
	s.data[sessionID] = snap.Clone()
	return nil
}

func (s *SlowStore) Load(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	time.Sleep(10 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, ok := s.data[sessionID]; ok {
		return snap.Clone(), nil
	}
	return nil, domain.ErrSessionNotFound
}

func (s *SlowStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

func (s *SlowStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func newManager(store ports.SnapshotStore, backend *fakeBackend, opts ...session.Option) *session.Manager {
	clock := func() time.Time { return today }
	opts = append(opts, session.WithControllerOptions(session.WithClock(clock)))
	return session.NewManager(store, backend, testConfig(), opts...)
}

func TestManager_OpenIsAtomic(t *testing.T) {
	store := &SlowStore{}
	manager := newManager(store, newFakeBackend())
	ctx := context.Background()
	id := testFile.ID

	var wg sync.WaitGroup
	// Launch 2 routines trying to open the same session
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := manager.Open(ctx, id, testFile)
			assert.NoError(t, err)
			assert.Equal(t, domain.PhasePreviewPending, v.Phase)
		}()
	}
	wg.Wait()

	ids, err := manager.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestManager_OpenRejectsExtension(t *testing.T) {
	store := memory.NewStore()
	manager := newManager(store, newFakeBackend())

	_, err := manager.Open(context.Background(), "x", domain.FileRef{ID: "x", Name: "tool.exe"})
	assert.ErrorIs(t, err, domain.ErrExtensionNotAllowed)

	ids, _ := store.List(context.Background())
	assert.Empty(t, ids)
}

func TestManager_DoPersistsEveryStep(t *testing.T) {
	store := memory.NewStore()
	manager := newManager(store, newFakeBackend())
	ctx := context.Background()
	id := testFile.ID

	_, err := manager.Open(ctx, id, testFile)
	require.NoError(t, err)

	v, err := manager.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
		return c.Skip(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAsking, v.Phase)

	v, err = manager.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
		return c.Submit(ctx, "F")
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, verr.Reason, v.ValidationError, "the view reflects the failed submission")

	_, err = manager.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
		return c.Submit(ctx, "Factura")
	})
	require.NoError(t, err)

	snap, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAsking, snap.Phase)
	assert.Equal(t, domain.FieldClient, snap.Current.ID)
	assert.Equal(t, "Factura", snap.Answers[domain.FieldDocType])
}

func TestManager_RestoresFromStore(t *testing.T) {
	store := memory.NewStore()
	backend := newFakeBackend()
	ctx := context.Background()
	id := testFile.ID

	first := newManager(store, backend)
	_, err := first.Open(ctx, id, testFile)
	require.NoError(t, err)
	_, err = first.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
		if err := c.Skip(ctx); err != nil {
			return err
		}
		return c.Submit(ctx, "Factura")
	})
	require.NoError(t, err)

	// A second replica picks the session up from the shared store.
	second := newManager(store, backend)
	v, err := second.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.FieldClient, v.Current.ID)
	assert.Equal(t, 2, v.Step)

	v, err = second.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
		return c.Back(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, "Factura", v.Draft)
}

func TestManager_TerminalSessionsAreDeleted(t *testing.T) {
	store := memory.NewStore()
	manager := newManager(store, newFakeBackend())
	ctx := context.Background()
	id := testFile.ID

	_, err := manager.Open(ctx, id, testFile)
	require.NoError(t, err)

	v, err := manager.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
		return c.Cancel(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, v.Phase)

	_, err = store.Load(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = manager.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_UnknownSession(t *testing.T) {
	manager := newManager(memory.NewStore(), newFakeBackend())
	_, err := manager.Do(context.Background(), "ghost", func(ctx context.Context, c *session.Controller) error {
		t.Fatal("fn must not run for unknown sessions")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_ConcurrentSubmitIsBusy(t *testing.T) {
	store := memory.NewStore()
	backend := newFakeBackend()
	backend.answerGate = make(chan struct{})
	manager := newManager(store, backend)
	ctx := context.Background()
	id := testFile.ID

	_, err := manager.Open(ctx, id, testFile)
	require.NoError(t, err)
	_, err = manager.Do(ctx, id, func(ctx context.Context, c *session.Controller) error { return c.Skip(ctx) })
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := manager.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
			return c.Submit(ctx, "Factura")
		})
		done <- err
	}()

	require.Eventually(t, func() bool {
		v, err := manager.Get(ctx, id)
		return err == nil && v.Busy
	}, time.Second, time.Millisecond)

	_, err = manager.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
		return c.Submit(ctx, "Factura")
	})
	assert.ErrorIs(t, err, domain.ErrBusy)

	close(backend.answerGate)
	require.NoError(t, <-done)
	assert.Len(t, backend.answerCalls(), 1)
}

func TestManager_DeleteCancelsLiveSession(t *testing.T) {
	store := memory.NewStore()
	backend := newFakeBackend()
	manager := newManager(store, backend)
	ctx := context.Background()

	_, err := manager.Open(ctx, testFile.ID, testFile)
	require.NoError(t, err)
	require.NoError(t, manager.Delete(ctx, testFile.ID))

	assert.Equal(t, 1, backend.discards)
	_, err = manager.Get(ctx, testFile.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_HooksReachControllers(t *testing.T) {
	rec := &recorder{}
	manager := newManager(memory.NewStore(), newFakeBackend(), session.WithSessionHooks(rec.hooks()))
	ctx := context.Background()

	_, err := manager.Open(ctx, testFile.ID, testFile)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []domain.Phase{domain.PhasePreviewPending}, rec.phases)
}

func TestManager_Evict(t *testing.T) {
	store := memory.NewStore()
	manager := newManager(store, newFakeBackend())
	ctx := context.Background()

	_, err := manager.Open(ctx, testFile.ID, testFile)
	require.NoError(t, err)

	// The test clock is frozen in the past, so the session is idle.
	assert.Equal(t, 1, manager.Evict(time.Minute))
	assert.Equal(t, 0, manager.Evict(time.Minute))

	v, err := manager.Get(ctx, testFile.ID)
	require.NoError(t, err, "evicted sessions are restored from the store")
	assert.Equal(t, domain.PhasePreviewPending, v.Phase)
}

func TestManager_EvictSkipsControllersInUse(t *testing.T) {
	store := memory.NewStore()
	backend := newFakeBackend()
	manager := newManager(store, backend)
	ctx := context.Background()
	id := testFile.ID

	_, err := manager.Open(ctx, id, testFile)
	require.NoError(t, err)

	entered := make(chan *session.Controller)
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := manager.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
			entered <- c
			<-release
			return c.Skip(ctx)
		})
		done <- err
	}()
	first := <-entered

	// Idle by the frozen clock, but an operation holds it.
	assert.Equal(t, 0, manager.Evict(time.Minute))

	_, err = manager.Do(ctx, id, func(ctx context.Context, c *session.Controller) error {
		assert.Same(t, first, c, "a concurrent request must reach the same controller")
		return nil
	})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, manager.Evict(time.Minute))
}
