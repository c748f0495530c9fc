package vault

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordVersionV1 = 1

	// DefaultGrace keeps expired records readable long enough to report them
	// as expired.
	DefaultGrace = 15 * time.Minute
)

var errRecordCorrupt = errors.New("vault record corrupt")

// RedisStore persists vault records as versioned binary blobs.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

// NewRedisStore creates a store under prefix (default "avt").
func NewRedisStore(client redis.UniversalClient, prefix string, grace time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "avt"
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &RedisStore{redis: client, prefix: prefix, grace: grace}
}

func (s *RedisStore) key(purpose Purpose, key string) string {
	return s.prefix + ":" + string(purpose) + ":" + key
}

// Put implements [Store].
func (s *RedisStore) Put(ctx context.Context, purpose Purpose, key string, record *Record, ttl time.Duration) error {
	encoded, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(purpose, key), encoded, ttl+s.grace).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get implements [Store].
func (s *RedisStore) Get(ctx context.Context, purpose Purpose, key string, now time.Time) (*Record, error) {
	k := s.key(purpose, key)
	data, err := s.redis.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	if record.Expired(now) {
		if err := s.redis.Del(ctx, k).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil, ErrExpired
	}
	return record, nil
}

// Consume implements [Store] with a WATCH/MULTI transaction.
func (s *RedisStore) Consume(ctx context.Context, purpose Purpose, key string, secretHash [32]byte, now time.Time) (*Record, error) {
	const maxRetries = 4
	k := s.key(purpose, key)

	for i := 0; i < maxRetries; i++ {
		var matched *Record

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, k).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}

			record, err := decodeRecord(data)
			if err != nil {
				return err
			}

			if record.Expired(now) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, k)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrExpired
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], secretHash[:]) != 1 {
				return ErrMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, k)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrExpired), errors.Is(err, ErrMismatch), errors.Is(err, errRecordCorrupt):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
		}
		return matched, nil
	}

	return nil, ErrNotFound
}

// Delete implements [Store].
func (s *RedisStore) Delete(ctx context.Context, purpose Purpose, key string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(purpose, key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n > 0, nil
}

func encodeRecord(record *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Subject) > 65535 {
		return nil, errors.New("vault record subject too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Subject))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Subject)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != recordVersionV1 {
		return nil, errRecordCorrupt
	}

	record := &Record{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, errRecordCorrupt
	}

	var subjectLen uint16
	if err := binary.Read(reader, binary.BigEndian, &subjectLen); err != nil {
		return nil, errRecordCorrupt
	}
	subject := make([]byte, subjectLen)
	if _, err := io.ReadFull(reader, subject); err != nil {
		return nil, errRecordCorrupt
	}
	record.Subject = string(subject)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, errRecordCorrupt
	}
	return record, nil
}
