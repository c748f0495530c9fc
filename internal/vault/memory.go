package vault

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/keyed"
)

// MemoryStore keeps vault records in process memory. Consumers of one record
// hold its keyed lock, so two callers racing on a token see exactly one
// success while unrelated tokens proceed.
type MemoryStore struct {
	locks *keyed.Mutex

	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   keyed.New(),
		records: make(map[string]Record),
	}
}

func memoryKey(purpose Purpose, key string) string {
	return string(purpose) + ":" + key
}

func (s *MemoryStore) load(k string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[k]
	return record, ok
}

func (s *MemoryStore) remove(k string) {
	s.mu.Lock()
	delete(s.records, k)
	s.mu.Unlock()
}

// Put implements [Store]. The ttl is carried in record.ExpiresAt.
func (s *MemoryStore) Put(_ context.Context, purpose Purpose, key string, record *Record, _ time.Duration) error {
	k := memoryKey(purpose, key)
	unlock := s.locks.Lock(k)
	defer unlock()

	s.mu.Lock()
	s.records[k] = *record
	s.mu.Unlock()
	return nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, purpose Purpose, key string, now time.Time) (*Record, error) {
	k := memoryKey(purpose, key)
	unlock := s.locks.Lock(k)
	defer unlock()

	record, ok := s.load(k)
	if !ok {
		return nil, ErrNotFound
	}
	if record.Expired(now) {
		s.remove(k)
		return nil, ErrExpired
	}
	return &record, nil
}

// Consume implements [Store].
func (s *MemoryStore) Consume(_ context.Context, purpose Purpose, key string, secretHash [32]byte, now time.Time) (*Record, error) {
	k := memoryKey(purpose, key)
	unlock := s.locks.Lock(k)
	defer unlock()

	record, ok := s.load(k)
	if !ok {
		return nil, ErrNotFound
	}
	if record.Expired(now) {
		s.remove(k)
		return nil, ErrExpired
	}
	if subtle.ConstantTimeCompare(record.SecretHash[:], secretHash[:]) != 1 {
		return nil, ErrMismatch
	}
	s.remove(k)
	return &record, nil
}

// Delete implements [Store].
func (s *MemoryStore) Delete(_ context.Context, purpose Purpose, key string) (bool, error) {
	k := memoryKey(purpose, key)
	unlock := s.locks.Lock(k)
	defer unlock()

	_, ok := s.load(k)
	if ok {
		s.remove(k)
	}
	return ok, nil
}
