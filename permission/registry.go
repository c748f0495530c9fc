package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownPermission is returned when a name was never registered.
	ErrUnknownPermission = errors.New("unknown permission")

	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("registry frozen")
)

// Registry maps permission names to bit positions within a [Mask64].
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
}

// NewFrozen registers names in order and freezes the registry.
func NewFrozen(names ...string) (*Registry, error) {
	r := NewRegistry()
	for _, name := range names {
		if _, err := r.Register(name); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

// Register assigns the next available bit to the named permission.
// Returns the assigned bit index. Must be called before [Registry.Freeze].
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrRegistryFrozen
	}

	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}

	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("permission already registered")
	}

	nextBit := len(r.nameToBit)
	if nextBit >= MaxBits {
		return -1, errors.New("permission limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name

	return nextBit, nil
}

// Bit returns the bit index for the named permission, or false if not registered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// Mask builds the mask for names. Duplicates collapse; any unregistered
// name fails the whole call.
func (r *Registry) Mask(names []string) (Mask64, error) {
	var m Mask64
	for _, name := range names {
		bit, ok := r.Bit(name)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownPermission, name)
		}
		m = m.With(bit)
	}
	return m, nil
}

// Names lists the registered permissions set in m, in bit order.
func (r *Registry) Names(m Mask64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bits := make([]int, 0, len(r.bitToName))
	for bit := range r.bitToName {
		if m.Has(bit) {
			bits = append(bits, bit)
		}
	}
	sort.Ints(bits)

	names := make([]string, len(bits))
	for i, bit := range bits {
		names[i] = r.bitToName[bit]
	}
	return names
}

// Missing returns the names in required that m does not grant. Unregistered
// names are always missing.
func (r *Registry) Missing(m Mask64, required []string) []string {
	var missing []string
	for _, name := range required {
		bit, ok := r.Bit(name)
		if !ok || !m.Has(bit) {
			missing = append(missing, name)
		}
	}
	return missing
}
