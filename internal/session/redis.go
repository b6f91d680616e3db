package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "arisu:session:"
	minRedisTTL        = time.Second
)

// RedisStore keeps sessions as JSON blobs with a key TTL matching the
// session lifetime, so Redis expires them without a sweep.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) remaining(session *Session) time.Duration {
	left := session.ExpiresAt(s.ttl).Sub(s.now())
	if left < minRedisTTL {
		return minRedisTTL
	}
	return left
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrStoreUnavailable, err)
	}

	var record Session
	if err := json.Unmarshal(raw, &record); err != nil || record.ID != id {
		// Unreadable blobs are dropped and treated as absent.
		if delErr := s.client.Del(ctx, s.key(id)).Err(); delErr != nil {
			return nil, fmt.Errorf("%w: del: %v", ErrStoreUnavailable, delErr)
		}
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *RedisStore) Create(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(session.ID), raw, s.remaining(session)).Result()
	if err != nil {
		return fmt.Errorf("%w: setnx: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}
	return nil
}
