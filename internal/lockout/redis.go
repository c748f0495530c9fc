package lockout

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateVersionV1 = 1
	// stateVersionV2 appends the last failure time.
	stateVersionV2 = 2
)

var errStateCorrupt = errors.New("lockout state corrupt")

// RedisStore keeps lockout state as a small binary record per identity.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store under prefix (default "alo").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "alo"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// Get implements [Store].
// Expiry is left to the Redis key TTL, so now is unused.
func (s *RedisStore) Get(ctx context.Context, key string, _ time.Time) (State, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return decodeState(data)
}

// Update implements [Store] with an optimistic WATCH/MULTI loop.
func (s *RedisStore) Update(ctx context.Context, key string, _ time.Time, ttl time.Duration, fn func(State) State) (State, error) {
	const maxRetries = 8
	k := s.key(key)

	for i := 0; i < maxRetries; i++ {
		var next State
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current := State{}
			data, err := tx.Get(ctx, k).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				current, err = decodeState(data)
				if err != nil {
					return err
				}
			}

			next = fn(current)
			encoded := encodeState(next)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, encoded, ttl)
				return nil
			})
			return err
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, errStateCorrupt) {
				return State{}, err
			}
			return State{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return next, nil
	}
	return State{}, fmt.Errorf("%w: too much contention", ErrBackendUnavailable)
}

// Delete implements [Store].
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func encodeState(s State) []byte {
	var buf bytes.Buffer
	buf.WriteByte(stateVersionV2)
	_ = binary.Write(&buf, binary.BigEndian, uint32(s.Failures))
	_ = binary.Write(&buf, binary.BigEndian, unixNano(s.LockedUntil))
	_ = binary.Write(&buf, binary.BigEndian, unixNano(s.LastFailure))
	return buf.Bytes()
}

// decodeState reads both record versions. Version 1 records carry no last
// failure time.
func decodeState(data []byte) (State, error) {
	reader := bytes.NewReader(data)
	version, err := reader.ReadByte()
	if err != nil || (version != stateVersionV1 && version != stateVersionV2) {
		return State{}, errStateCorrupt
	}
	var failures uint32
	if err := binary.Read(reader, binary.BigEndian, &failures); err != nil {
		return State{}, errStateCorrupt
	}
	var until int64
	if err := binary.Read(reader, binary.BigEndian, &until); err != nil {
		return State{}, errStateCorrupt
	}
	s := State{Failures: int(failures), LockedUntil: fromUnixNano(until)}
	if version == stateVersionV2 {
		var last int64
		if err := binary.Read(reader, binary.BigEndian, &last); err != nil {
			return State{}, errStateCorrupt
		}
		s.LastFailure = fromUnixNano(last)
	}
	if reader.Len() != 0 {
		return State{}, errStateCorrupt
	}
	return s, nil
}
