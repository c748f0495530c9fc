// Package keyed provides a mutex striped by string key. Memory backends use it
// so that operations on different identities, sessions, or rate windows never
// contend on a single global lock.
package keyed

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Mutex hands out one lock per key. Entries are reference counted and dropped
// once no goroutine holds or waits on them, so the map does not grow with the
// number of keys ever seen.
type Mutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty keyed mutex.
func New() *Mutex {
	return &Mutex{entries: make(map[string]*entry)}
}

// Lock acquires the lock for key and returns its release function.
func (m *Mutex) Lock(key string) func() {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}

// Len reports how many keys currently have holders or waiters.
func (m *Mutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
