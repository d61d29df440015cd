package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "recalld:surfaced:"

// RedisStore is a Store shared across backend instances. Records are JSON
// values under a per-conversation key with a server-side TTL, so expiry
// holds even if no instance ever reads the record again.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed surfaced-memory store and verifies
// connectivity.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	if rec.ConversationID == "" {
		return fmt.Errorf("conversation ID cannot be empty")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal surfaced record: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+rec.ConversationID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set surfaced record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, conversationID string) (*Record, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+conversationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get surfaced record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal surfaced record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+conversationID).Err(); err != nil {
		return fmt.Errorf("delete surfaced record: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
