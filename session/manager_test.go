package session

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func managerStores(t *testing.T) map[string]Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb, ""),
	}
}

func newRecord(id, identity string) NewRecord {
	return NewRecord{ID: id, IdentityID: identity, TokenHash: sha256.Sum256([]byte(id))}
}

func TestManagerTimeoutBoundary(t *testing.T) {
	for name, store := range managerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(store, Options{})
			now := time.Unix(1_700_000_000, 0)

			_, err := m.Create(ctx, newRecord("s1", "alice"), now)
			require.NoError(t, err)

			_, err = m.Validate(ctx, "s1", now.Add(29*time.Minute+59*time.Second))
			require.NoError(t, err)

			_, err = m.Validate(ctx, "s1", now.Add(30*time.Minute))
			require.ErrorIs(t, err, ErrExpired)

			_, err = m.Validate(ctx, "s1", now)
			require.ErrorIs(t, err, ErrNotFound, "expired sessions are removed")
		})
	}
}

func TestManagerTouchExtendsOnlyWhenConfigured(t *testing.T) {
	for name, store := range managerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(store, Options{})
			now := time.Unix(1_700_000_000, 0)

			_, err := m.Create(ctx, newRecord("s1", "alice"), now)
			require.NoError(t, err)

			r, err := m.Touch(ctx, "s1", now.Add(20*time.Minute))
			require.NoError(t, err)
			require.Equal(t, now.Add(20*time.Minute).Unix(), r.LastActive.Unix())

			_, err = m.Validate(ctx, "s1", now.Add(45*time.Minute))
			require.NoError(t, err, "activity slides the window")

			require.NoError(t, m.Configure(ctx, "bob", Policy{TimeoutMinutes: 30, ExtendOnActivity: false}))
			_, err = m.Create(ctx, newRecord("s2", "bob"), now)
			require.NoError(t, err)

			r, err = m.Touch(ctx, "s2", now.Add(20*time.Minute))
			require.NoError(t, err)
			require.Equal(t, now.Unix(), r.LastActive.Unix())
			require.Equal(t, now.Add(20*time.Minute).Unix(), r.LastSeen.Unix())

			_, err = m.Validate(ctx, "s2", now.Add(30*time.Minute))
			require.ErrorIs(t, err, ErrExpired)
		})
	}
}

func TestManagerConfigurePropagatesToLiveSessions(t *testing.T) {
	for name, store := range managerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(store, Options{})
			now := time.Unix(1_700_000_000, 0)

			_, err := m.Create(ctx, newRecord("s1", "alice"), now)
			require.NoError(t, err)

			require.ErrorIs(t, m.Configure(ctx, "alice", Policy{TimeoutMinutes: 4}), ErrInvalidTimeout)
			require.ErrorIs(t, m.Configure(ctx, "alice", Policy{TimeoutMinutes: 1441}), ErrInvalidTimeout)
			require.NoError(t, m.Configure(ctx, "alice", Policy{TimeoutMinutes: 5, ExtendOnActivity: true}))

			_, err = m.Validate(ctx, "s1", now.Add(5*time.Minute))
			require.ErrorIs(t, err, ErrExpired)

			p, err := m.PolicyFor(ctx, "alice")
			require.NoError(t, err)
			require.Equal(t, Policy{TimeoutMinutes: 5, ExtendOnActivity: true}, p)

			r, err := m.Create(ctx, newRecord("s2", "alice"), now)
			require.NoError(t, err)
			require.Equal(t, 5, r.TimeoutMinutes)
		})
	}
}

func TestManagerTerminateChecksOwnership(t *testing.T) {
	for name, store := range managerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(store, Options{})
			now := time.Unix(1_700_000_000, 0)

			_, err := m.Create(ctx, newRecord("s1", "alice"), now)
			require.NoError(t, err)

			require.ErrorIs(t, m.Terminate(ctx, "mallory", "s1"), ErrNotFound)
			_, err = m.Validate(ctx, "s1", now)
			require.NoError(t, err)

			require.NoError(t, m.Terminate(ctx, "alice", "s1"))
			require.ErrorIs(t, m.Terminate(ctx, "alice", "s1"), ErrNotFound)
		})
	}
}

func TestManagerTerminateAll(t *testing.T) {
	for name, store := range managerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(store, Options{})
			now := time.Unix(1_700_000_000, 0)

			for i := 0; i < 3; i++ {
				_, err := m.Create(ctx, newRecord(fmt.Sprintf("a%d", i), "alice"), now)
				require.NoError(t, err)
			}
			_, err := m.Create(ctx, newRecord("b0", "bob"), now)
			require.NoError(t, err)

			n, err := m.TerminateAll(ctx, "alice")
			require.NoError(t, err)
			require.Equal(t, 3, n)

			live, err := m.List(ctx, "alice", now)
			require.NoError(t, err)
			require.Empty(t, live)

			live, err = m.List(ctx, "bob", now)
			require.NoError(t, err)
			require.Len(t, live, 1)
		})
	}
}

func TestManagerAuthenticateByToken(t *testing.T) {
	for name, store := range managerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(store, Options{})
			now := time.Unix(1_700_000_000, 0)

			in := newRecord("s1", "alice")
			_, err := m.Create(ctx, in, now)
			require.NoError(t, err)

			r, err := m.Authenticate(ctx, in.TokenHash, now.Add(time.Minute))
			require.NoError(t, err)
			require.Equal(t, "s1", r.ID)

			_, err = m.Authenticate(ctx, [32]byte{0xff}, now)
			require.ErrorIs(t, err, ErrNotFound)

			_, err = m.Authenticate(ctx, in.TokenHash, now.Add(2*time.Hour))
			require.ErrorIs(t, err, ErrExpired)
		})
	}
}

func TestManagerSessionCap(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), Options{MaxPerIdentity: 2})
	now := time.Unix(1_700_000_000, 0)

	_, err := m.Create(ctx, newRecord("s1", "alice"), now)
	require.NoError(t, err)
	_, err = m.Create(ctx, newRecord("s2", "alice"), now)
	require.NoError(t, err)
	_, err = m.Create(ctx, newRecord("s3", "alice"), now)
	require.ErrorIs(t, err, ErrLimitExceeded)

	_, err = m.Create(ctx, newRecord("s3", "alice"), now.Add(31*time.Minute))
	require.NoError(t, err, "lapsed sessions do not count toward the cap")
}

func TestManagerPing(t *testing.T) {
	ctx := context.Background()
	for name, store := range managerStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := NewManager(store, Options{}).Ping(ctx)
			require.NoError(t, err)
		})
	}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	m := NewManager(NewRedisStore(rdb, ""), Options{})
	mr.Close()

	_, err = m.Ping(ctx)
	require.ErrorIs(t, err, ErrRedisUnavailable)
}
