package lockout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
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

func TestTrackerBackoffCurve(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			tr := New(store, Policy{})
			ctx := context.Background()
			now := time.Unix(1_700_000_000, 0)

			s, err := tr.RecordFailure(ctx, "alice@example.com", now)
			require.NoError(t, err)
			require.Equal(t, 1, s.Failures)
			require.True(t, s.LockedUntil.IsZero())

			wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
			for i, want := range wantDelays {
				s, err = tr.RecordFailure(ctx, "alice@example.com", now)
				require.NoError(t, err)
				require.Equal(t, i+2, s.Failures)
				require.Equal(t, want, s.LockedUntil.Sub(now))
				require.False(t, s.Hard(tr.Policy()))
			}

			s, err = tr.RecordFailure(ctx, "alice@example.com", now)
			require.NoError(t, err)
			require.Equal(t, 5, s.Failures)
			require.True(t, s.Hard(tr.Policy()))
			require.Equal(t, 30*time.Minute, s.LockedUntil.Sub(now))

			locked, err := tr.IsLocked(ctx, "alice@example.com", now.Add(29*time.Minute))
			require.NoError(t, err)
			require.True(t, locked)

			locked, err = tr.IsLocked(ctx, "alice@example.com", now.Add(30*time.Minute))
			require.NoError(t, err)
			require.False(t, locked, "an elapsed lockout reads as unlocked")
		})
	}
}

func TestTrackerSuccessResets(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			tr := New(store, DefaultPolicy())
			ctx := context.Background()
			now := time.Unix(1_700_000_000, 0)

			for i := 0; i < 3; i++ {
				_, err := tr.RecordFailure(ctx, "bob@example.com", now)
				require.NoError(t, err)
			}
			require.NoError(t, tr.RecordSuccess(ctx, "bob@example.com"))

			s, err := tr.State(ctx, "bob@example.com", now)
			require.NoError(t, err)
			require.Equal(t, State{}, s)
		})
	}
}

func TestTrackerIdentitiesAreIndependent(t *testing.T) {
	tr := New(NewMemoryStore(), DefaultPolicy())
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		_, err := tr.RecordFailure(ctx, "a", now)
		require.NoError(t, err)
	}
	s, err := tr.State(ctx, "b", now)
	require.NoError(t, err)
	require.Zero(t, s.Failures)
}

func TestTrackerConcurrentFailuresAreCounted(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			tr := New(store, DefaultPolicy())
			ctx := context.Background()
			now := time.Unix(1_700_000_000, 0)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = tr.RecordFailure(ctx, "c", now)
				}()
			}
			wg.Wait()

			s, err := tr.State(ctx, "c", now)
			require.NoError(t, err)
			if name == "memory" {
				require.Equal(t, 20, s.Failures)
			} else {
				// Optimistic retries may give up under heavy contention; never over-count.
				require.LessOrEqual(t, s.Failures, 20)
				require.Greater(t, s.Failures, 0)
			}
		})
	}
}

func TestStateRemaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := State{Failures: 5, LockedUntil: now.Add(10 * time.Minute)}
	require.Equal(t, 10*time.Minute, s.Remaining(now))
	require.Zero(t, s.Remaining(now.Add(11*time.Minute)))
}

func TestStateCodecRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 12345)
	in := State{Failures: 7, LockedUntil: now, LastFailure: now.Add(-time.Minute)}
	out, err := decodeState(encodeState(in))
	require.NoError(t, err)
	require.Equal(t, in.Failures, out.Failures)
	require.True(t, in.LockedUntil.Equal(out.LockedUntil))
	require.True(t, in.LastFailure.Equal(out.LastFailure))

	_, err = decodeState([]byte{9})
	require.Error(t, err)

	truncated := encodeState(in)
	_, err = decodeState(truncated[:len(truncated)-1])
	require.Error(t, err)
}

func TestStateCodecReadsVersionOne(t *testing.T) {
	v1 := []byte{stateVersionV1, 0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 0, 0}
	s, err := decodeState(v1)
	require.NoError(t, err)
	require.Equal(t, 3, s.Failures)
	require.True(t, s.LockedUntil.IsZero())
	require.True(t, s.LastFailure.IsZero())
}

func TestMemoryStateExpiresAfterRetention(t *testing.T) {
	store := NewMemoryStore()
	tr := New(store, Policy{SoftFrom: 2, HardThreshold: 5, BaseDelay: time.Second, LockoutDuration: time.Minute, Retention: time.Hour})
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		_, err := tr.RecordFailure(ctx, "dora@example.com", now)
		require.NoError(t, err)
	}
	s, err := tr.State(ctx, "dora@example.com", now.Add(59*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 5, s.Failures, "the counter outlives the lock window")
	require.True(t, s.LastFailure.Equal(now))

	later := now.Add(time.Hour)
	s, err = tr.State(ctx, "dora@example.com", later)
	require.NoError(t, err)
	require.Equal(t, State{}, s)

	s, err = tr.RecordFailure(ctx, "dora@example.com", later)
	require.NoError(t, err)
	require.Equal(t, 1, s.Failures, "an expired state starts over")
}

func TestMemoryStoreSweepsExpiredKeys(t *testing.T) {
	store := NewMemoryStore()
	tr := New(store, Policy{HardThreshold: 5, LockoutDuration: time.Minute, Retention: time.Minute})
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < sweepBatch; i++ {
		_, err := tr.RecordFailure(ctx, string(rune('a'+i)), now)
		require.NoError(t, err)
	}
	require.Equal(t, sweepBatch, store.Len())

	// One write inspects sweepBatch of the sweepBatch+1 keys and only the
	// fresh one is live, so at most one expired key survives.
	_, err := tr.RecordFailure(ctx, "fresh", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.LessOrEqual(t, store.Len(), 2)
}

func TestRedisStateCarriesRetentionTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	tr := New(NewRedisStore(rdb, "alo"), Policy{SoftFrom: 2, HardThreshold: 5, BaseDelay: time.Second, LockoutDuration: time.Minute, Retention: time.Hour})
	ctx := context.Background()
	now := time.Now()

	_, err = tr.RecordFailure(ctx, "erin@example.com", now)
	require.NoError(t, err)
	require.Equal(t, time.Hour, mr.TTL("alo:erin@example.com"))

	mr.FastForward(time.Hour)
	s, err := tr.State(ctx, "erin@example.com", now)
	require.NoError(t, err)
	require.Equal(t, State{}, s)
}
