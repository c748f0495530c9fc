package vault

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/random"
)

var (
	ErrNotFound           = errors.New("vault record not found")
	ErrExpired            = errors.New("vault record expired")
	ErrMismatch           = errors.New("vault secret mismatch")
	ErrBackendUnavailable = errors.New("vault backend unavailable")
)

// Purpose partitions the vault keyspace.
type Purpose string

const (
	PurposeReset     Purpose = "reset"
	PurposeEmail     Purpose = "email"
	PurposePhone     Purpose = "phone"
	PurposeTwoFactor Purpose = "mfa"
)

// Record is a stored secret. ExpiresAt is unix nanoseconds.
type Record struct {
	Subject    string
	SecretHash [32]byte
	ExpiresAt  int64
}

// Expired reports whether the record is past its deadline at now.
func (r *Record) Expired(now time.Time) bool {
	return now.UnixNano() >= r.ExpiresAt
}

// Store is the persistence contract for vault records.
type Store interface {
	Put(ctx context.Context, purpose Purpose, key string, record *Record, ttl time.Duration) error
	Get(ctx context.Context, purpose Purpose, key string, now time.Time) (*Record, error)
	Consume(ctx context.Context, purpose Purpose, key string, secretHash [32]byte, now time.Time) (*Record, error)
	// Delete reports whether a record existed.
	Delete(ctx context.Context, purpose Purpose, key string) (bool, error)
}

// Vault hashes secrets on the way into a [Store].
type Vault struct {
	store Store
}

// New wraps store.
func New(store Store) *Vault {
	return &Vault{store: store}
}

// Issue stores secret for (purpose, key), replacing any earlier record.
func (v *Vault) Issue(ctx context.Context, purpose Purpose, key, subject, secret string, ttl time.Duration, now time.Time) error {
	record := &Record{
		Subject:    subject,
		SecretHash: random.Hash(secret),
		ExpiresAt:  now.Add(ttl).UnixNano(),
	}
	return v.store.Put(ctx, purpose, key, record, ttl)
}

// Restore puts back a record returned by Consume when the operation it
// authorized failed. It keeps the original deadline and is a no-op once that
// has passed.
func (v *Vault) Restore(ctx context.Context, purpose Purpose, key string, record *Record, now time.Time) error {
	ttl := time.Duration(record.ExpiresAt - now.UnixNano())
	if ttl <= 0 {
		return nil
	}
	return v.store.Put(ctx, purpose, key, record, ttl)
}

// Consume checks secret against the record for (purpose, key) and removes it
// on a match.
func (v *Vault) Consume(ctx context.Context, purpose Purpose, key, secret string, now time.Time) (*Record, error) {
	return v.store.Consume(ctx, purpose, key, random.Hash(secret), now)
}

// Lookup returns the live record for (purpose, key) without consuming it.
// Expired records are removed and reported as [ErrExpired].
func (v *Vault) Lookup(ctx context.Context, purpose Purpose, key string, now time.Time) (*Record, error) {
	return v.store.Get(ctx, purpose, key, now)
}

// Delete removes the record for (purpose, key) and reports whether it
// existed. Callers racing on the same record observe true exactly once.
func (v *Vault) Delete(ctx context.Context, purpose Purpose, key string) (bool, error) {
	return v.store.Delete(ctx, purpose, key)
}
