package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrStaleCounter  = errors.New("store: stale counter")

	ErrDuplicateEmail = fmt.Errorf("%w: email", ErrAlreadyExists)
	ErrDuplicatePhone = fmt.Errorf("%w: phone", ErrAlreadyExists)
)

// Store is the root data access interface. Drivers expose sub-repositories
// so each concern stays small and testable.
type Store interface {
	Identities() Identities
	TwoFactor() TwoFactorSecrets
	APIKeys() APIKeys

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

type Identities interface {
	// Create inserts a new identity. Duplicate email or phone fails with
	// ErrDuplicateEmail / ErrDuplicatePhone.
	Create(ctx context.Context, identity *Identity) error

	GetByID(ctx context.Context, id string) (*Identity, error)

	// GetByEmail matches the email exactly.
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// Update loads the identity, applies fn and persists the result
	// atomically. An error from fn aborts the update and is returned as is.
	Update(ctx context.Context, id string, fn func(*Identity) error) (*Identity, error)

	AppendLoginEvent(ctx context.Context, event LoginEvent) error

	// LoginHistory returns up to limit events, newest first. limit <= 0
	// returns everything.
	LoginHistory(ctx context.Context, identityID string, limit int) ([]LoginEvent, error)
}

type TwoFactorSecrets interface {
	// Put creates or replaces the enrolment for secret.IdentityID.
	Put(ctx context.Context, secret *TwoFactorSecret) error
	Get(ctx context.Context, identityID string) (*TwoFactorSecret, error)
	Delete(ctx context.Context, identityID string) error

	// MarkUsed advances LastUsedCounter to counter. It fails with
	// ErrStaleCounter unless counter is greater than the stored value, and
	// with ErrNotFound when there is no enrolment.
	MarkUsed(ctx context.Context, identityID string, counter int64) error
}

type APIKeys interface {
	Create(ctx context.Context, key *APIKey) error
	Get(ctx context.Context, id string) (*APIKey, error)
	GetByHash(ctx context.Context, keyHash string) (*APIKey, error)
	// ListByIdentity returns every key of identityID, oldest first.
	ListByIdentity(ctx context.Context, identityID string) ([]*APIKey, error)
	// Update applies fn to the stored key atomically.
	Update(ctx context.Context, id string, fn func(*APIKey) error) (*APIKey, error)
}
