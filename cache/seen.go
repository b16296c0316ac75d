package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// SeenStore records message ids that were already answered.
type SeenStore interface {
	Seen(ctx context.Context, id string) (bool, error)
	MarkSeen(ctx context.Context, id string) error
}

// MemorySeenStore keeps seen ids in a process-local TTLCache.
type MemorySeenStore struct {
	cache *TTLCache[struct{}]
	ttl   time.Duration
}

// NewMemorySeenStore creates an in-process dedup store.
func NewMemorySeenStore(capacity int, ttl time.Duration, opts ...Option) *MemorySeenStore {
	return &MemorySeenStore{cache: NewTTL[struct{}](capacity, ttl, opts...), ttl: ttl}
}

func (s *MemorySeenStore) Seen(_ context.Context, id string) (bool, error) {
	return s.cache.Contains(id), nil
}

func (s *MemorySeenStore) MarkSeen(_ context.Context, id string) error {
	s.cache.Set(id, struct{}{}, s.ttl)
	return nil
}

// RedisSeenStore shares seen ids between replicas.
type RedisSeenStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSeenStore creates a dedup store backed by redis keys with expiry.
func NewRedisSeenStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisSeenStore {
	if keyPrefix == "" {
		keyPrefix = "supportrag:seen:"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisSeenStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisSeenStore) Seen(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed, err: %w", err)
	}
	return n > 0, nil
}

func (s *RedisSeenStore) MarkSeen(ctx context.Context, id string) error {
	// SETNX keeps the first marker's expiry when two replicas race on one id.
	if err := s.client.SetNX(ctx, s.keyPrefix+id, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx failed, err: %w", err)
	}
	return nil
}
