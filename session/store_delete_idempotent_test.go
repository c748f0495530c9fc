package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*RedisStore, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb, "as")
	return store, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func testRecord() *Record {
	now := time.Unix(1700000000, 0)
	return &Record{
		ID:               "sid-1",
		IdentityID:       "u-1",
		TokenHash:        [32]byte{1},
		CreatedAt:        now,
		LastActive:       now,
		LastSeen:         now,
		TimeoutMinutes:   30,
		ExtendOnActivity: true,
	}
}

func TestDeleteSessionIdempotentIndex(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	rec := testRecord()

	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save session: %v", err)
	}
	existed, err := store.Delete(ctx, rec.ID)
	if err != nil || !existed {
		t.Fatalf("first delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, rec.ID)
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}

	members, err := rdb.SMembers(ctx, store.identityKey(rec.IdentityID)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no identity index members, got %v", members)
	}
	if n, _ := rdb.Exists(ctx, store.tokenKey(rec.TokenHash)).Result(); n != 0 {
		t.Fatalf("expected token index removed")
	}
}

func TestListPrunesEvictedSessions(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord()
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := rdb.Del(ctx, store.key(rec.ID)).Err(); err != nil {
		t.Fatalf("evict: %v", err)
	}

	records, err := store.List(ctx, rec.IdentityID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if n, _ := rdb.SCard(ctx, store.identityKey(rec.IdentityID)).Result(); n != 0 {
		t.Fatalf("expected stale index entry pruned, got %d", n)
	}
}

func TestGetCorruptBlob(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := rdb.Set(ctx, store.key("sid-corrupt"), []byte("bad"), time.Hour).Err(); err != nil {
		t.Fatalf("seed corrupt blob failed: %v", err)
	}
	if _, err := store.Get(ctx, "sid-corrupt"); err == nil {
		t.Fatalf("expected decode error")
	}
}
