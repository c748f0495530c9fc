package session

import (
	"context"
	"errors"
	"time"
)

// Options configures a [Manager].
type Options struct {
	// Default applies to identities without a stored policy.
	Default Policy
	// MaxPerIdentity caps live sessions per identity. Zero disables the cap.
	MaxPerIdentity int
}

// Manager implements session lifecycle rules over a [Store].
type Manager struct {
	store Store
	opts  Options
}

// NewManager returns a manager. A zero Default falls back to [DefaultPolicy].
func NewManager(store Store, opts Options) *Manager {
	if opts.Default == (Policy{}) {
		opts.Default = DefaultPolicy()
	}
	return &Manager{store: store, opts: opts}
}

// NewRecord describes a session to create.
type NewRecord struct {
	ID         string
	IdentityID string
	TokenHash  [32]byte
	Address    string
	UserAgent  string
}

// PolicyFor returns the stored policy for identityID or the default.
func (m *Manager) PolicyFor(ctx context.Context, identityID string) (Policy, error) {
	p, ok, err := m.store.Policy(ctx, identityID)
	if err != nil {
		return Policy{}, err
	}
	if !ok {
		return m.opts.Default, nil
	}
	return p, nil
}

// Create stores a new session under the identity's current policy.
func (m *Manager) Create(ctx context.Context, in NewRecord, now time.Time) (*Record, error) {
	policy, err := m.PolicyFor(ctx, in.IdentityID)
	if err != nil {
		return nil, err
	}

	if m.opts.MaxPerIdentity > 0 {
		live, err := m.List(ctx, in.IdentityID, now)
		if err != nil {
			return nil, err
		}
		if len(live) >= m.opts.MaxPerIdentity {
			return nil, ErrLimitExceeded
		}
	}

	r := &Record{
		ID:               in.ID,
		IdentityID:       in.IdentityID,
		TokenHash:        in.TokenHash,
		CreatedAt:        now,
		LastActive:       now,
		LastSeen:         now,
		TimeoutMinutes:   policy.TimeoutMinutes,
		ExtendOnActivity: policy.ExtendOnActivity,
		Address:          in.Address,
		UserAgent:        in.UserAgent,
	}
	if err := m.store.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate returns the session if it is still inside its inactivity window.
// A lapsed session is removed and reported as [ErrExpired].
func (m *Manager) Validate(ctx context.Context, id string, now time.Time) (*Record, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.checkLive(ctx, r, now)
}

func (m *Manager) checkLive(ctx context.Context, r *Record, now time.Time) (*Record, error) {
	if r.Valid(now) {
		return r, nil
	}
	if _, err := m.store.Delete(ctx, r.ID); err != nil {
		return nil, err
	}
	return nil, ErrExpired
}

// Touch records activity on a live session.
func (m *Manager) Touch(ctx context.Context, id string, now time.Time) (*Record, error) {
	if _, err := m.Validate(ctx, id, now); err != nil {
		return nil, err
	}
	return m.store.Update(ctx, id, func(r *Record) {
		r.LastSeen = now
		if r.ExtendOnActivity {
			r.LastActive = now
		}
	})
}

// Authenticate resolves a live session from its token hash and records
// activity on it.
func (m *Manager) Authenticate(ctx context.Context, tokenHash [32]byte, now time.Time) (*Record, error) {
	r, err := m.store.GetByToken(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if _, err := m.checkLive(ctx, r, now); err != nil {
		return nil, err
	}
	return m.Touch(ctx, r.ID, now)
}

// Terminate removes a session owned by identityID. Sessions owned by anyone
// else read as [ErrNotFound].
func (m *Manager) Terminate(ctx context.Context, identityID, id string) error {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.IdentityID != identityID {
		return ErrNotFound
	}
	existed, err := m.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return ErrNotFound
	}
	return nil
}

// TerminateAll removes every session of identityID.
func (m *Manager) TerminateAll(ctx context.Context, identityID string) (int, error) {
	return m.store.DeleteAll(ctx, identityID)
}

// Configure stores a new policy for identityID and applies it to its live
// sessions.
func (m *Manager) Configure(ctx context.Context, identityID string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := m.store.SavePolicy(ctx, identityID, p); err != nil {
		return err
	}

	records, err := m.store.List(ctx, identityID)
	if err != nil {
		return err
	}
	for _, r := range records {
		_, err := m.store.Update(ctx, r.ID, func(r *Record) {
			r.TimeoutMinutes = p.TimeoutMinutes
			r.ExtendOnActivity = p.ExtendOnActivity
		})
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// List returns the live sessions of identityID, oldest first.
func (m *Manager) List(ctx context.Context, identityID string, now time.Time) ([]*Record, error) {
	records, err := m.store.List(ctx, identityID)
	if err != nil {
		return nil, err
	}
	live := records[:0]
	for _, r := range records {
		if r.Valid(now) {
			live = append(live, r)
		}
	}
	return live, nil
}

type pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Ping checks the backing store and reports its round trip. Stores without a
// remote backend report zero.
func (m *Manager) Ping(ctx context.Context) (time.Duration, error) {
	p, ok := m.store.(pinger)
	if !ok {
		return 0, nil
	}
	return p.Ping(ctx)
}
