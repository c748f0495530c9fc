package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session matches the lookup.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when a session's inactivity window has closed.
	ErrExpired = errors.New("session expired")

	// ErrInvalidTimeout is returned for timeouts outside [5, 1440] minutes.
	ErrInvalidTimeout = errors.New("session timeout out of range")

	// ErrLimitExceeded is returned when an identity already holds the
	// maximum number of live sessions.
	ErrLimitExceeded = errors.New("session limit exceeded")

	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Store persists session records and per-identity policies.
type Store interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByToken(ctx context.Context, tokenHash [32]byte) (*Record, error)
	// Update applies fn to the stored record atomically and returns the result.
	Update(ctx context.Context, id string, fn func(*Record)) (*Record, error)
	// Delete reports whether the session existed.
	Delete(ctx context.Context, id string) (bool, error)
	// DeleteAll removes every session of identityID and returns how many existed.
	DeleteAll(ctx context.Context, identityID string) (int, error)
	List(ctx context.Context, identityID string) ([]*Record, error)
	SavePolicy(ctx context.Context, identityID string, p Policy) error
	Policy(ctx context.Context, identityID string) (Policy, bool, error)
}

const retentionGrace = time.Hour

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
  if redis.call("GET", KEYS[3]) == ARGV[1] then
    redis.call("DEL", KEYS[3])
  end
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// RedisStore is a Redis-backed session [Store]. Records expire from Redis
// one hour after their inactivity window would close.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a session store under prefix (default "as").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "as"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":s:" + id
}

func (s *RedisStore) tokenKey(tokenHash [32]byte) string {
	return s.prefix + ":t:" + hex.EncodeToString(tokenHash[:])
}

func (s *RedisStore) identityKey(identityID string) string {
	return s.prefix + ":u:" + identityID
}

func (s *RedisStore) policyKey(identityID string) string {
	return s.prefix + ":p:" + identityID
}

func retention(r *Record) time.Duration {
	return r.Timeout() + retentionGrace
}

// Save implements [Store].
//
//	Performance: 1 MULTI with SET, SET, SADD.
func (s *RedisStore) Save(ctx context.Context, r *Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	ttl := retention(r)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(r.ID), data, ttl)
		pipe.Set(ctx, s.tokenKey(r.TokenHash), r.ID, ttl)
		pipe.SAdd(ctx, s.identityKey(r.IdentityID), r.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get implements [Store].
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	r, err := Decode(data)
	if err != nil {
		return nil, err
	}
	r.ID = id
	return r, nil
}

// GetByToken implements [Store].
func (s *RedisStore) GetByToken(ctx context.Context, tokenHash [32]byte) (*Record, error) {
	id, err := s.redis.Get(ctx, s.tokenKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.TokenHash != tokenHash {
		return nil, ErrNotFound
	}
	return r, nil
}

// Update implements [Store] with a WATCH/MULTI loop on the session key.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Record)) (*Record, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var updated *Record

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}

			r, err := Decode(data)
			if err != nil {
				return err
			}
			r.ID = id
			fn(r)

			encoded, err := Encode(r)
			if err != nil {
				return err
			}
			ttl := retention(r)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				pipe.Expire(ctx, s.tokenKey(r.TokenHash), ttl)
				return nil
			})
			if err != nil {
				return err
			}
			updated = r
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return updated, nil
	}

	return nil, fmt.Errorf("%w: too much contention", ErrRedisUnavailable)
}

// Delete implements [Store].
//
//	Performance: 1 GET + 1 Lua EVALSHA.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.deleteRecord(ctx, r)
}

func (s *RedisStore) deleteRecord(ctx context.Context, r *Record) (bool, error) {
	keys := []string{s.key(r.ID), s.identityKey(r.IdentityID), s.tokenKey(r.TokenHash)}
	existed, err := deleteSessionLua.Run(ctx, s.redis, keys, r.ID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// DeleteAll implements [Store].
//
// The sweep is not atomic: a session created between SMEMBERS and the
// deletes survives and can be removed by a second call.
func (s *RedisStore) DeleteAll(ctx context.Context, identityID string) (int, error) {
	records, err := s.List(ctx, identityID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, r := range records {
		existed, err := s.deleteRecord(ctx, r)
		if err != nil {
			return removed, err
		}
		if existed {
			removed++
		}
	}
	return removed, nil
}

// List implements [Store]. Index entries whose record has been evicted are
// pruned on the way.
func (s *RedisStore) List(ctx context.Context, identityID string) ([]*Record, error) {
	identityKey := s.identityKey(identityID)
	ids, err := s.redis.SMembers(ctx, identityKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]*Record, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		r, err := Decode(data)
		if err != nil {
			return nil, err
		}
		r.ID = ids[i]
		records = append(records, r)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, identityKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	sortRecords(records)
	return records, nil
}

// SavePolicy implements [Store].
func (s *RedisStore) SavePolicy(ctx context.Context, identityID string, p Policy) error {
	err := s.redis.HSet(ctx, s.policyKey(identityID),
		"timeout", p.TimeoutMinutes,
		"extend", strconv.FormatBool(p.ExtendOnActivity),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Policy implements [Store].
func (s *RedisStore) Policy(ctx context.Context, identityID string) (Policy, bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.policyKey(identityID)).Result()
	if err != nil {
		return Policy{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return Policy{}, false, nil
	}

	timeout, err := strconv.Atoi(fields["timeout"])
	if err != nil {
		return Policy{}, false, fmt.Errorf("session policy corrupt: %v", err)
	}
	extend, err := strconv.ParseBool(fields["extend"])
	if err != nil {
		return Policy{}, false, fmt.Errorf("session policy corrupt: %v", err)
	}
	return Policy{TimeoutMinutes: timeout, ExtendOnActivity: extend}, true, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
