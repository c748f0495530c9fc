// Package memstore is the in-memory [store.Store] driver.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/MrEthical07/authcore/internal/keyed"
	"github.com/MrEthical07/authcore/store"
)

// Store keeps every repository in process memory. Each repository serializes
// writers of one entity on a keyed lock; its map guard is held only for map
// reads and writes, never across a caller's update function.
type Store struct {
	identities *identities
	twoFactor  *twoFactor
	apiKeys    *apiKeys
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		identities: &identities{
			locks:   keyed.New(),
			byID:    make(map[string]*store.Identity),
			byEmail: make(map[string]string),
			byPhone: make(map[string]string),
			history: make(map[string][]store.LoginEvent),
		},
		twoFactor: &twoFactor{locks: keyed.New(), secrets: make(map[string]store.TwoFactorSecret)},
		apiKeys: &apiKeys{
			locks:  keyed.New(),
			byID:   make(map[string]*store.APIKey),
			byHash: make(map[string]string),
		},
	}
}

func (s *Store) Identities() store.Identities      { return s.identities }
func (s *Store) TwoFactor() store.TwoFactorSecrets { return s.twoFactor }
func (s *Store) APIKeys() store.APIKeys            { return s.apiKeys }
func (s *Store) Close() error                      { return nil }
func (s *Store) Ping(context.Context) error        { return nil }

type identities struct {
	locks   *keyed.Mutex
	mu      sync.RWMutex
	byID    map[string]*store.Identity
	byEmail map[string]string
	byPhone map[string]string
	history map[string][]store.LoginEvent
}

func (r *identities) Create(_ context.Context, identity *store.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[identity.ID]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := r.byEmail[identity.Email]; ok {
		return store.ErrDuplicateEmail
	}
	if identity.Phone != "" {
		if _, ok := r.byPhone[identity.Phone]; ok {
			return store.ErrDuplicatePhone
		}
		r.byPhone[identity.Phone] = identity.ID
	}
	r.byID[identity.ID] = identity.Clone()
	r.byEmail[identity.Email] = identity.ID
	return nil
}

func (r *identities) GetByID(_ context.Context, id string) (*store.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return identity.Clone(), nil
}

func (r *identities) GetByEmail(_ context.Context, email string) (*store.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *identities) Update(_ context.Context, id string, fn func(*store.Identity) error) (*store.Identity, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.RLock()
	current, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Email = current.Email

	r.mu.Lock()
	defer r.mu.Unlock()
	if next.Phone != current.Phone {
		if next.Phone != "" {
			if owner, taken := r.byPhone[next.Phone]; taken && owner != id {
				return nil, store.ErrDuplicatePhone
			}
			r.byPhone[next.Phone] = id
		}
		if current.Phone != "" {
			delete(r.byPhone, current.Phone)
		}
	}

	r.byID[id] = next
	return next.Clone(), nil
}

func (r *identities) AppendLoginEvent(_ context.Context, event store.LoginEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[event.IdentityID]; !ok {
		return store.ErrNotFound
	}
	r.history[event.IdentityID] = append(r.history[event.IdentityID], event)
	return nil
}

func (r *identities) LoginHistory(_ context.Context, identityID string, limit int) ([]store.LoginEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.history[identityID]
	out := make([]store.LoginEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, events[i])
	}
	return out, nil
}

type twoFactor struct {
	locks   *keyed.Mutex
	mu      sync.RWMutex
	secrets map[string]store.TwoFactorSecret
}

func (r *twoFactor) Put(_ context.Context, secret *store.TwoFactorSecret) error {
	unlock := r.locks.Lock(secret.IdentityID)
	defer unlock()

	r.mu.Lock()
	r.secrets[secret.IdentityID] = *secret
	r.mu.Unlock()
	return nil
}

func (r *twoFactor) Get(_ context.Context, identityID string) (*store.TwoFactorSecret, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	secret, ok := r.secrets[identityID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &secret, nil
}

func (r *twoFactor) Delete(_ context.Context, identityID string) error {
	unlock := r.locks.Lock(identityID)
	defer unlock()

	r.mu.Lock()
	delete(r.secrets, identityID)
	r.mu.Unlock()
	return nil
}

func (r *twoFactor) MarkUsed(_ context.Context, identityID string, counter int64) error {
	unlock := r.locks.Lock(identityID)
	defer unlock()

	r.mu.RLock()
	secret, ok := r.secrets[identityID]
	r.mu.RUnlock()
	if !ok {
		return store.ErrNotFound
	}
	if counter <= secret.LastUsedCounter {
		return store.ErrStaleCounter
	}
	secret.LastUsedCounter = counter

	r.mu.Lock()
	r.secrets[identityID] = secret
	r.mu.Unlock()
	return nil
}

type apiKeys struct {
	locks  *keyed.Mutex
	mu     sync.RWMutex
	byID   map[string]*store.APIKey
	byHash map[string]string
}

func (r *apiKeys) Create(_ context.Context, key *store.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[key.ID]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := r.byHash[key.KeyHash]; ok {
		return store.ErrAlreadyExists
	}
	r.byID[key.ID] = key.Clone()
	r.byHash[key.KeyHash] = key.ID
	return nil
}

func (r *apiKeys) Get(_ context.Context, id string) (*store.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return key.Clone(), nil
}

func (r *apiKeys) GetByHash(_ context.Context, keyHash string) (*store.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHash[keyHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *apiKeys) ListByIdentity(_ context.Context, identityID string) ([]*store.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*store.APIKey
	for _, key := range r.byID {
		if key.IdentityID == identityID {
			out = append(out, key.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *apiKeys) Update(_ context.Context, id string, fn func(*store.APIKey) error) (*store.APIKey, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.RLock()
	current, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.KeyHash = current.KeyHash

	r.mu.Lock()
	r.byID[id] = next
	r.mu.Unlock()
	return next.Clone(), nil
}
