package rate

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/keyed"
)

// MemoryStore keeps windows in process memory.
type MemoryStore struct {
	locks *keyed.Mutex

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore returns an empty in-memory window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   keyed.New(),
		windows: make(map[string][]time.Time),
	}
}

func (s *MemoryStore) load(key string) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[key]
}

func (s *MemoryStore) store(key string, entries []time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(entries) == 0 {
		delete(s.windows, key)
		return
	}
	s.windows[key] = entries
}

func prune(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && entries[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	out := make([]time.Time, len(entries)-i)
	copy(out, entries[i:])
	return out
}

// Count implements [Store].
func (s *MemoryStore) Count(_ context.Context, key string, now time.Time, window time.Duration) (int, time.Time, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	entries := prune(s.load(key), now.Add(-window))
	s.store(key, entries)
	if len(entries) == 0 {
		return 0, time.Time{}, nil
	}
	return len(entries), entries[0], nil
}

// Add implements [Store].
func (s *MemoryStore) Add(_ context.Context, key string, now time.Time, window time.Duration) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	s.store(key, insert(prune(s.load(key), now.Add(-window)), now))
	return nil
}

// Reserve implements [Store]. The key lock covers the count and the append.
func (s *MemoryStore) Reserve(_ context.Context, key string, now time.Time, window time.Duration, limit int) (Reservation, bool, time.Time, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	entries := prune(s.load(key), now.Add(-window))
	if len(entries) >= limit {
		s.store(key, entries)
		var oldest time.Time
		if len(entries) > 0 {
			oldest = entries[0]
		}
		return Reservation{}, false, oldest, nil
	}
	s.store(key, insert(entries, now))
	return Reservation{Key: key, At: now}, true, time.Time{}, nil
}

// Release implements [Store]. Entries with equal timestamps are
// interchangeable, so any one of them is removed.
func (s *MemoryStore) Release(_ context.Context, r Reservation) error {
	unlock := s.locks.Lock(r.Key)
	defer unlock()

	entries := s.load(r.Key)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Equal(r.At) {
			out := make([]time.Time, 0, len(entries)-1)
			out = append(out, entries[:i]...)
			out = append(out, entries[i+1:]...)
			s.store(r.Key, out)
			return nil
		}
	}
	return nil
}

// insert keeps entries ordered even if the caller's clock stepped backwards.
func insert(entries []time.Time, now time.Time) []time.Time {
	pos := len(entries)
	for pos > 0 && entries[pos-1].After(now) {
		pos--
	}
	out := make([]time.Time, 0, len(entries)+1)
	out = append(out, entries[:pos]...)
	out = append(out, now)
	return append(out, entries[pos:]...)
}
