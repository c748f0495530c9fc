package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// reserveScript prunes, counts and conditionally adds in one server-side step.
// KEYS[1] window; ARGV cutoff, score, member, limit, ttl in ms.
var reserveScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[4]) then
	local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	return {0, first[2] or '0'}
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {1, '0'}
`)

// RedisStore keeps each window in a sorted set scored by UnixMicro.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a window store under prefix (default "arw").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "arw"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// Count implements [Store].
func (s *RedisStore) Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, time.Time, error) {
	k := s.key(key)
	cutoff := now.Add(-window).UnixMicro()

	pipe := s.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, k)
	oldest := pipe.ZRangeWithScores(ctx, k, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	count := int(card.Val())
	if count == 0 {
		return 0, time.Time{}, nil
	}
	first := oldest.Val()
	if len(first) == 0 {
		return count, time.Time{}, nil
	}
	return count, time.UnixMicro(int64(first[0].Score)), nil
}

// Add implements [Store].
func (s *RedisStore) Add(ctx context.Context, key string, now time.Time, window time.Duration) error {
	k := s.key(key)
	member := newMember(now)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: member})
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Reserve implements [Store] with a Lua script so concurrent callers on any
// number of instances cannot overshoot limit.
func (s *RedisStore) Reserve(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Reservation, bool, time.Time, error) {
	k := s.key(key)
	member := newMember(now)
	res, err := reserveScript.Run(ctx, s.redis, []string{k},
		now.Add(-window).UnixMicro(),
		now.UnixMicro(),
		member,
		limit,
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return Reservation{}, false, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 2 {
		return Reservation{}, false, time.Time{}, fmt.Errorf("%w: unexpected reserve reply", ErrBackendUnavailable)
	}

	if allowed, _ := res[0].(int64); allowed == 1 {
		return Reservation{Key: key, At: now, Member: member}, true, time.Time{}, nil
	}
	var oldest time.Time
	if raw, ok := res[1].(string); ok {
		if score, err := strconv.ParseFloat(raw, 64); err == nil && score > 0 {
			oldest = time.UnixMicro(int64(score))
		}
	}
	return Reservation{}, false, oldest, nil
}

// Release implements [Store].
func (s *RedisStore) Release(ctx context.Context, r Reservation) error {
	if r.Member == "" {
		return nil
	}
	if err := s.redis.ZRem(ctx, s.key(r.Key), r.Member).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func newMember(now time.Time) string {
	return strconv.FormatInt(now.UnixMicro(), 10) + "-" + uuid.NewString()
}
