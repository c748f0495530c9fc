package session

import (
	"context"
	"sync"

	"github.com/MrEthical07/authcore/internal/keyed"
)

// MemoryStore is an in-process session [Store]. Writers of one session hold
// its keyed lock; mu guards the indexes and is never held across fn.
type MemoryStore struct {
	locks *keyed.Mutex

	mu         sync.RWMutex
	records    map[string]Record
	byToken    map[[32]byte]string
	byIdentity map[string]map[string]struct{}
	policies   map[string]Policy
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:      keyed.New(),
		records:    make(map[string]Record),
		byToken:    make(map[[32]byte]string),
		byIdentity: make(map[string]map[string]struct{}),
		policies:   make(map[string]Policy),
	}
}

func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	unlock := s.locks.Lock(r.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[r.ID] = *r
	s.byToken[r.TokenHash] = r.ID
	ids, ok := s.byIdentity[r.IdentityID]
	if !ok {
		ids = make(map[string]struct{})
		s.byIdentity[r.IdentityID] = ids
	}
	ids[r.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) GetByToken(_ context.Context, tokenHash [32]byte) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Record)) (*Record, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	fn(&r)

	s.mu.Lock()
	defer s.mu.Unlock()
	// DeleteAll does not take per-session locks.
	if _, ok := s.records[id]; !ok {
		return nil, ErrNotFound
	}
	s.records[id] = r
	return &r, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id), nil
}

func (s *MemoryStore) deleteLocked(id string) bool {
	r, ok := s.records[id]
	if !ok {
		return false
	}
	delete(s.records, id)
	delete(s.byToken, r.TokenHash)
	if ids, ok := s.byIdentity[r.IdentityID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byIdentity, r.IdentityID)
		}
	}
	return true
}

func (s *MemoryStore) DeleteAll(_ context.Context, identityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id := range s.byIdentity[identityID] {
		if s.deleteLocked(id) {
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) List(_ context.Context, identityID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byIdentity[identityID]
	records := make([]*Record, 0, len(ids))
	for id := range ids {
		r := s.records[id]
		records = append(records, &r)
	}
	sortRecords(records)
	return records, nil
}

func (s *MemoryStore) SavePolicy(_ context.Context, identityID string, p Policy) error {
	s.mu.Lock()
	s.policies[identityID] = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Policy(_ context.Context, identityID string) (Policy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[identityID]
	return p, ok, nil
}
