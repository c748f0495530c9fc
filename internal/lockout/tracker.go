package lockout

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable reports a lockout store failure.
var ErrBackendUnavailable = errors.New("lockout backend unavailable")

// Policy configures the backoff curve.
type Policy struct {
	SoftFrom        int
	HardThreshold   int
	BaseDelay       time.Duration
	LockoutDuration time.Duration
	// Retention drops a state this long after its last failure. Zero keeps
	// it until a success.
	Retention time.Duration
}

// DefaultPolicy is 1s, 2s, 4s advisory delays for failures 2-4 and a 30 minute
// lockout from the fifth failure on. States are forgotten a day after the
// last failure.
func DefaultPolicy() Policy {
	return Policy{
		SoftFrom:        2,
		HardThreshold:   5,
		BaseDelay:       time.Second,
		LockoutDuration: 30 * time.Minute,
		Retention:       24 * time.Hour,
	}
}

// State is the per-identity lockout record. A zero LockedUntil means no delay
// or lockout is pending.
type State struct {
	Failures    int
	LockedUntil time.Time
	LastFailure time.Time
}

// Locked reports whether the lock timestamp is set and still in the future.
func (s State) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// Remaining is the time left until LockedUntil, or zero.
func (s State) Remaining(now time.Time) time.Duration {
	if !s.Locked(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// Hard reports whether the failure count has reached the hard tier.
func (s State) Hard(p Policy) bool {
	return p.HardThreshold > 0 && s.Failures >= p.HardThreshold
}

// Next applies one failure at now.
func (p Policy) Next(s State, now time.Time) State {
	s.Failures++
	s.LastFailure = now
	switch {
	case p.HardThreshold > 0 && s.Failures >= p.HardThreshold:
		s.LockedUntil = now.Add(p.LockoutDuration)
	case p.SoftFrom > 0 && s.Failures >= p.SoftFrom:
		shift := s.Failures - p.SoftFrom
		if shift > 30 {
			shift = 30
		}
		s.LockedUntil = now.Add(p.BaseDelay * time.Duration(1<<shift))
	}
	return s
}

// Store persists lockout state keyed by identity.
type Store interface {
	// Get returns the zero State for unknown or expired keys.
	Get(ctx context.Context, key string, now time.Time) (State, error)
	// Update applies fn atomically with respect to other updates of key and
	// keeps the result for ttl. A zero ttl never expires.
	Update(ctx context.Context, key string, now time.Time, ttl time.Duration, fn func(State) State) (State, error)
	Delete(ctx context.Context, key string) error
}

// Tracker applies [Policy] over a [Store].
type Tracker struct {
	store  Store
	policy Policy
}

// New returns a tracker. A zero policy falls back to [DefaultPolicy].
func New(store Store, policy Policy) *Tracker {
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	return &Tracker{store: store, policy: policy}
}

// Policy returns the active policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// RecordFailure increments the counter for key and recomputes the lock timestamp.
func (t *Tracker) RecordFailure(ctx context.Context, key string, now time.Time) (State, error) {
	return t.store.Update(ctx, key, now, t.policy.Retention, func(s State) State {
		return t.policy.Next(s, now)
	})
}

// RecordSuccess zeroes the state for key.
func (t *Tracker) RecordSuccess(ctx context.Context, key string) error {
	return t.store.Delete(ctx, key)
}

// State returns the current state for key.
func (t *Tracker) State(ctx context.Context, key string, now time.Time) (State, error) {
	return t.store.Get(ctx, key, now)
}

// IsLocked reports whether a delay or lockout for key is still in the future.
func (t *Tracker) IsLocked(ctx context.Context, key string, now time.Time) (bool, error) {
	s, err := t.store.Get(ctx, key, now)
	if err != nil {
		return false, err
	}
	return s.Locked(now), nil
}
