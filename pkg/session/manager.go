package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/docket/internal/logging"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed session lock is held.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager hosts session controllers, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks.
//
// Live controllers are kept in memory while their session is active so that a
// request arriving during an in-flight call observes the Busy state. Snapshots
// are written to the store after every operation; terminal sessions are deleted.
type Manager struct {
	store   ports.SnapshotStore
	backend ports.Backend
	cfg     Config

	mu    sync.Mutex             // Global lock for the maps
	locks map[string]*lockEntry  // Map of active locks
	live  map[string]*Controller // Controllers of active sessions
	inUse map[string]int         // Do calls running against a live controller

	locker   ports.DistributedLocker // Optional distributed locker
	lockTTL  time.Duration
	hooks    domain.Hooks
	ctrlOpts []ControllerOption
	logger   *slog.Logger // Logger for internal events (like deferred errors)
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager and its controllers.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSessionHooks registers hooks on every controller the Manager creates.
func WithSessionHooks(h domain.Hooks) Option {
	return func(m *Manager) {
		m.hooks = m.hooks.Merge(h)
	}
}

// WithControllerOptions appends options applied to every controller.
func WithControllerOptions(opts ...ControllerOption) Option {
	return func(m *Manager) {
		m.ctrlOpts = append(m.ctrlOpts, opts...)
	}
}

// NewManager creates a new Session Manager with the given persistence store and backend.
func NewManager(store ports.SnapshotStore, backend ports.Backend, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		backend: backend,
		cfg:     cfg,
		locks:   make(map[string]*lockEntry),
		live:    make(map[string]*Controller),
		inUse:   make(map[string]int),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

func (m *Manager) newController(sessionID string) *Controller {
	opts := []ControllerOption{
		WithControllerLogger(m.logger),
		WithHooks(m.hooks),
	}
	opts = append(opts, m.ctrlOpts...)
	return NewController(sessionID, m.backend, m.cfg, opts...)
}

// Open attaches file to a new session, or returns the existing session
// when one is already stored under sessionID.
func (m *Manager) Open(ctx context.Context, sessionID string, file domain.FileRef) (View, error) {
	var ctrl *Controller
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		ctrl, err = m.lookup(ctx, sessionID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("failed to check session existence: %w", err)
		}

		// Not found, create new
		ctrl = m.newController(sessionID)
		if err := ctrl.Attach(ctx, file); err != nil {
			return err
		}

		// Persist immediately to reserve the ID
		if err := m.store.Save(ctx, sessionID, ctrl.Snapshot()); err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		m.keep(sessionID, ctrl)
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return ctrl.View(), nil
}

// Get returns the current view of a session.
func (m *Manager) Get(ctx context.Context, sessionID string) (View, error) {
	var ctrl *Controller
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		ctrl, err = m.lookup(ctx, sessionID)
		return err
	})
	if err != nil {
		return View{}, err
	}
	return ctrl.View(), nil
}

// Do runs fn against the session's controller and persists the result.
// The operation error is returned alongside the updated view; the view is
// valid whenever the session exists.
func (m *Manager) Do(ctx context.Context, sessionID string, fn func(context.Context, *Controller) error) (View, error) {
	var ctrl *Controller
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		ctrl, err = m.lookup(ctx, sessionID)
		if err == nil {
			m.pin(sessionID)
		}
		return err
	})
	if err != nil {
		return View{}, err
	}
	defer m.unpin(sessionID)

	// The controller serialises its own state; the session lock is only held
	// around store access so a concurrent request sees ErrBusy instead of blocking.
	// The pin keeps Evict from replacing the controller while fn runs.
	opErr := fn(ctx, ctrl)

	if err := m.persist(ctx, sessionID, ctrl); err != nil {
		return ctrl.View(), err
	}
	return ctrl.View(), opErr
}

// persist saves the controller snapshot, or deletes it once terminal.
func (m *Manager) persist(ctx context.Context, sessionID string, ctrl *Controller) error {
	ctx = context.WithoutCancel(ctx)
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		snap := ctrl.Snapshot()
		if snap.Phase.IsTerminal() {
			m.forget(sessionID, ctrl)
			if err := m.store.Delete(ctx, sessionID); err != nil {
				return fmt.Errorf("failed to delete finished session: %w", err)
			}
			m.logger.Debug("session finished", "session_id", sessionID, "phase", snap.Phase)
			return nil
		}
		if err := m.store.Save(ctx, sessionID, snap); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

// lookup returns the live controller or restores one from the store.
// The caller holds the session lock.
func (m *Manager) lookup(ctx context.Context, sessionID string) (*Controller, error) {
	m.mu.Lock()
	ctrl, ok := m.live[sessionID]
	m.mu.Unlock()
	if ok {
		return ctrl, nil
	}

	snap, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctrl = m.newController(sessionID)
	if err := ctrl.Restore(snap); err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	m.keep(sessionID, ctrl)
	return ctrl, nil
}

func (m *Manager) keep(sessionID string, ctrl *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[sessionID] = ctrl
}

// pin marks the live controller as in use by a Do call.
func (m *Manager) pin(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inUse[sessionID]++
}

func (m *Manager) unpin(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inUse[sessionID] <= 1 {
		delete(m.inUse, sessionID)
		return
	}
	m.inUse[sessionID]--
}

func (m *Manager) forget(sessionID string, ctrl *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[sessionID] == ctrl {
		delete(m.live, sessionID)
	}
}

// Delete cancels a live session and removes it from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ctrl, ok := m.live[sessionID]
	m.mu.Unlock()
	if ok {
		if err := ctrl.Cancel(ctx); err != nil {
			m.logger.Warn("failed to cancel session", "session_id", sessionID, "err", err)
		}
	}

	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if ok {
			m.forget(sessionID, ctrl)
		}
		return m.store.Delete(ctx, sessionID)
	})
}

// Evict drops live controllers that are idle for longer than maxIdle and
// that no Do call is running against. Their snapshots stay in the store and
// are restored on the next request.
func (m *Manager) Evict(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	cutoff := time.Now().Add(-maxIdle)
	for id, ctrl := range m.live {
		if m.inUse[id] > 0 {
			continue
		}
		v := ctrl.View()
		if v.Busy || v.UpdatedAt.After(cutoff) {
			continue
		}
		delete(m.live, id)
		n++
	}
	return n
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying snapshot store.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// Backend returns the backend shared by all sessions.
func (m *Manager) Backend() ports.Backend {
	return m.backend
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
