package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps states in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[int64]*State
	now    func() time.Time
}

// NewMemoryStore returns an empty in-memory store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}

	return &MemoryStore{
		states: make(map[int64]*State),
		now:    now,
	}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (*State, error) {
	s.mu.RLock()
	st, ok := s.states[userID]
	s.mu.RUnlock()

	if !ok || st.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, userID int64, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[userID] = state.Clone()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, userID)
	return nil
}

// Sweep removes every state expired at now.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, st := range s.states {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if st.Expired(now) {
			delete(s.states, userID)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored states, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
