package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long an untouched state stays alive.
const DefaultTTL = 24 * time.Hour

// lockEntry is a per-user mutex with a reference count so idle users do not
// keep entries alive.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to each user's state and keeps its expiry fresh.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   *slog.Logger

	mu    sync.Mutex
	locks map[int64]*lockEntry
}

// Option configures the Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager wraps store.
func NewManager(store Store, log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		log:   log,
		locks: make(map[int64]*lockEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) acquire(userID int64) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[userID]
	if !ok {
		entry = &lockEntry{}
		m.locks[userID] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[userID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, userID)
	}
}

// UpdateFunc receives a private copy of the current state, nil when the user
// has none, and returns the state to persist. Returning nil or an empty state
// clears it; returning an error persists nothing.
type UpdateFunc func(ctx context.Context, current *State) (*State, error)

// Update runs fn as one atomic read-modify-write for userID. Concurrent
// updates of the same user run one after another.
func (m *Manager) Update(ctx context.Context, userID int64, fn UpdateFunc) error {
	entry := m.acquire(userID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(userID)
	}()

	current, err := m.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		current = nil
	}

	next, err := fn(ctx, current)
	if err != nil {
		return err
	}

	if next == nil || next.Empty() {
		if current == nil {
			return nil
		}
		return m.store.Clear(ctx, userID)
	}

	m.touch(userID, next)
	return m.store.Set(ctx, userID, next)
}

// Get returns the user's state, or nil when absent, and extends its expiry.
func (m *Manager) Get(ctx context.Context, userID int64) (*State, error) {
	var out *State
	err := m.Update(ctx, userID, func(_ context.Context, current *State) (*State, error) {
		out = current.Clone()
		return current, nil
	})
	return out, err
}

// Clear drops the user's state.
func (m *Manager) Clear(ctx context.Context, userID int64) error {
	return m.Update(ctx, userID, func(context.Context, *State) (*State, error) {
		return nil, nil
	})
}

// Sweep removes expired states from the store.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.Sweep(ctx, m.now())
}

func (m *Manager) touch(userID int64, st *State) {
	now := m.now().UTC()
	st.UserID = userID
	st.UpdatedAt = now
	st.ExpiresAt = now.Add(m.ttl)
}
