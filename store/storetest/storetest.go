// Package storetest is a conformance suite run by every store driver's tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"IdentityCreateAndGet", testIdentityCreateAndGet},
		{"IdentityDuplicates", testIdentityDuplicates},
		{"IdentityEmailIsExactMatch", testIdentityEmailExactMatch},
		{"IdentityUpdate", testIdentityUpdate},
		{"IdentityUpdatePhoneConflict", testIdentityUpdatePhoneConflict},
		{"LoginHistory", testLoginHistory},
		{"TwoFactorSecrets", testTwoFactorSecrets},
		{"TwoFactorMarkUsedIsExclusive", testTwoFactorMarkUsedIsExclusive},
		{"APIKeys", testAPIKeys},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

var baseTime = time.Unix(1_700_000_000, 0).UTC()

func identity(id, email, phone string) *store.Identity {
	return &store.Identity{
		ID:           id,
		Email:        email,
		PasswordHash: "$argon2id$test",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Phone:        phone,
		Active:       true,
		SecurityQuestions: []store.SecurityQuestion{
			{Question: "first pet", AnswerHash: "h1"},
			{Question: "birth city", AnswerHash: "h2"},
		},
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func testIdentityCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := identity("id-1", "ada@example.com", "+15550001")
	require.NoError(t, s.Identities().Create(ctx, in))

	got, err := s.Identities().GetByID(ctx, "id-1")
	require.NoError(t, err)
	require.Equal(t, in.Email, got.Email)
	require.Equal(t, in.Phone, got.Phone)
	require.Equal(t, in.PasswordHash, got.PasswordHash)
	require.True(t, got.Active)
	require.False(t, got.EmailVerified)
	require.Equal(t, in.SecurityQuestions, got.SecurityQuestions)
	require.True(t, in.CreatedAt.Equal(got.CreatedAt))

	byEmail, err := s.Identities().GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "id-1", byEmail.ID)

	_, err = s.Identities().GetByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testIdentityDuplicates(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Identities().Create(ctx, identity("id-1", "ada@example.com", "+15550001")))

	err := s.Identities().Create(ctx, identity("id-2", "ada@example.com", ""))
	require.ErrorIs(t, err, store.ErrDuplicateEmail)
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	err = s.Identities().Create(ctx, identity("id-3", "other@example.com", "+15550001"))
	require.ErrorIs(t, err, store.ErrDuplicatePhone)

	// Identities without a phone never collide on it.
	require.NoError(t, s.Identities().Create(ctx, identity("id-4", "a@example.com", "")))
	require.NoError(t, s.Identities().Create(ctx, identity("id-5", "b@example.com", "")))
}

func testIdentityEmailExactMatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Identities().Create(ctx, identity("id-1", "Ada@Example.com", "")))

	_, err := s.Identities().GetByEmail(ctx, "ada@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Identities().Create(ctx, identity("id-2", "ada@example.com", "")))
}

func testIdentityUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Identities().Create(ctx, identity("id-1", "ada@example.com", "")))

	later := baseTime.Add(time.Hour)
	updated, err := s.Identities().Update(ctx, "id-1", func(i *store.Identity) error {
		i.EmailVerified = true
		i.Phone = "+15550009"
		i.PasswordHash = "$argon2id$new"
		i.SecurityQuestions = i.SecurityQuestions[:1]
		i.UpdatedAt = later
		return nil
	})
	require.NoError(t, err)
	require.True(t, updated.EmailVerified)

	got, err := s.Identities().GetByID(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, got.EmailVerified)
	require.Equal(t, "+15550009", got.Phone)
	require.Equal(t, "$argon2id$new", got.PasswordHash)
	require.Len(t, got.SecurityQuestions, 1)
	require.True(t, later.Equal(got.UpdatedAt))

	sentinel := errors.New("abort")
	_, err = s.Identities().Update(ctx, "id-1", func(i *store.Identity) error {
		i.Active = false
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err = s.Identities().GetByID(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, got.Active, "aborted updates are not persisted")

	_, err = s.Identities().Update(ctx, "missing", func(*store.Identity) error { return nil })
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testIdentityUpdatePhoneConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Identities().Create(ctx, identity("id-1", "a@example.com", "+15550001")))
	require.NoError(t, s.Identities().Create(ctx, identity("id-2", "b@example.com", "")))

	_, err := s.Identities().Update(ctx, "id-2", func(i *store.Identity) error {
		i.Phone = "+15550001"
		return nil
	})
	require.ErrorIs(t, err, store.ErrDuplicatePhone)
}

func testLoginHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Identities().Create(ctx, identity("id-1", "ada@example.com", "")))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Identities().AppendLoginEvent(ctx, store.LoginEvent{
			IdentityID: "id-1",
			Address:    fmt.Sprintf("10.0.0.%d", i),
			UserAgent:  "test",
			At:         baseTime.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := s.Identities().LoginHistory(ctx, "id-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "10.0.0.2", events[0].Address, "newest first")

	events, err = s.Identities().LoginHistory(ctx, "id-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = s.Identities().LoginHistory(ctx, "nobody", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func testTwoFactorSecrets(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Identities().Create(ctx, identity("id-1", "ada@example.com", "")))

	_, err := s.TwoFactor().Get(ctx, "id-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.TwoFactor().Put(ctx, &store.TwoFactorSecret{IdentityID: "id-1", Secret: "AAAA", CreatedAt: baseTime}))
	require.NoError(t, s.TwoFactor().Put(ctx, &store.TwoFactorSecret{IdentityID: "id-1", Secret: "BBBB", Enabled: true, CreatedAt: baseTime}))

	got, err := s.TwoFactor().Get(ctx, "id-1")
	require.NoError(t, err)
	require.Equal(t, "BBBB", got.Secret)
	require.True(t, got.Enabled)

	require.Zero(t, got.LastUsedCounter)

	require.NoError(t, s.TwoFactor().MarkUsed(ctx, "id-1", 100))
	require.ErrorIs(t, s.TwoFactor().MarkUsed(ctx, "id-1", 100), store.ErrStaleCounter)
	require.ErrorIs(t, s.TwoFactor().MarkUsed(ctx, "id-1", 99), store.ErrStaleCounter)
	require.NoError(t, s.TwoFactor().MarkUsed(ctx, "id-1", 101))

	got, err = s.TwoFactor().Get(ctx, "id-1")
	require.NoError(t, err)
	require.Equal(t, int64(101), got.LastUsedCounter)

	// Put carries the counter through a replace.
	got.Secret = "CCCC"
	require.NoError(t, s.TwoFactor().Put(ctx, got))
	got, err = s.TwoFactor().Get(ctx, "id-1")
	require.NoError(t, err)
	require.Equal(t, int64(101), got.LastUsedCounter)

	require.NoError(t, s.TwoFactor().Delete(ctx, "id-1"))
	_, err = s.TwoFactor().Get(ctx, "id-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.TwoFactor().Delete(ctx, "id-1"))
	require.ErrorIs(t, s.TwoFactor().MarkUsed(ctx, "id-1", 1), store.ErrNotFound)
}

func testTwoFactorMarkUsedIsExclusive(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Identities().Create(ctx, identity("id-1", "ada@example.com", "")))
	require.NoError(t, s.TwoFactor().Put(ctx, &store.TwoFactorSecret{IdentityID: "id-1", Secret: "AAAA", Enabled: true, CreatedAt: baseTime}))

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TwoFactor().MarkUsed(ctx, "id-1", 7) == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), won.Load())
}

func testAPIKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Identities().Create(ctx, identity("id-1", "ada@example.com", "")))

	first := &store.APIKey{
		ID: "key-1", IdentityID: "id-1", Name: "ci", KeyHash: "hash-1",
		KeyPrefix: "ack_ab", KeySuffix: "wxyz", Permissions: 0b11, CreatedAt: baseTime, Active: true,
	}
	second := &store.APIKey{
		ID: "key-2", IdentityID: "id-1", Name: "deploy", KeyHash: "hash-2",
		KeyPrefix: "ack_cd", KeySuffix: "qrst", Permissions: 0b1, CreatedAt: baseTime.Add(time.Second), Active: true,
	}
	require.NoError(t, s.APIKeys().Create(ctx, first))
	require.NoError(t, s.APIKeys().Create(ctx, second))
	require.ErrorIs(t, s.APIKeys().Create(ctx, first), store.ErrAlreadyExists)

	got, err := s.APIKeys().GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, "key-1", got.ID)
	require.Nil(t, got.LastUsed)
	require.Equal(t, uint64(0b11), got.Permissions)

	used := baseTime.Add(time.Hour)
	_, err = s.APIKeys().Update(ctx, "key-1", func(k *store.APIKey) error {
		k.LastUsed = &used
		k.Active = false
		k.Description = "rotated"
		return nil
	})
	require.NoError(t, err)

	got, err = s.APIKeys().Get(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsed)
	require.True(t, used.Equal(*got.LastUsed))
	require.False(t, got.Active)
	require.Equal(t, "rotated", got.Description)

	keys, err := s.APIKeys().ListByIdentity(ctx, "id-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, "key-1", keys[0].ID)

	_, err = s.APIKeys().GetByHash(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.APIKeys().Update(ctx, "nope", func(*store.APIKey) error { return nil })
	require.ErrorIs(t, err, store.ErrNotFound)
}
