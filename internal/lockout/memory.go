package lockout

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/keyed"
)

// sweepBatch bounds how many other keys one Update inspects for expiry.
const sweepBatch = 16

type entry struct {
	state   State
	expires time.Time
}

func (e entry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// MemoryStore keeps lockout state in process memory. Expired states are
// dropped on read and swept a few at a time on write.
type MemoryStore struct {
	locks *keyed.Mutex

	mu     sync.RWMutex
	states map[string]entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:  keyed.New(),
		states: make(map[string]entry),
	}
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, key string, now time.Time) (State, error) {
	s.mu.RLock()
	e, ok := s.states[key]
	s.mu.RUnlock()
	if !ok || !e.live(now) {
		return State{}, nil
	}
	return e.state, nil
}

// Update implements [Store].
func (s *MemoryStore) Update(_ context.Context, key string, now time.Time, ttl time.Duration, fn func(State) State) (State, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	s.mu.RLock()
	current, ok := s.states[key]
	s.mu.RUnlock()
	if !ok || !current.live(now) {
		current = entry{}
	}

	next := entry{state: fn(current.state)}
	if ttl > 0 {
		next.expires = now.Add(ttl)
	}

	s.mu.Lock()
	s.states[key] = next
	s.sweep(now)
	s.mu.Unlock()
	return next.state, nil
}

// sweep must run with mu held.
func (s *MemoryStore) sweep(now time.Time) {
	n := 0
	for k, e := range s.states {
		if n == sweepBatch {
			return
		}
		n++
		if !e.live(now) {
			delete(s.states, k)
		}
	}
}

// Len reports how many states are held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Delete implements [Store].
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	s.mu.Lock()
	delete(s.states, key)
	s.mu.Unlock()
	return nil
}
