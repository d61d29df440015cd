package correlator

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoStore is the default in-process Store, backed by a ristretto
// cache with native TTL eviction.
//
// Suitable for single-instance deployments; multi-instance deployments
// should use RedisStore so an outcome arriving on a different instance can
// still find the surfaced set.
type RistrettoStore struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewRistrettoStore creates an in-process surfaced-memory store. ttl bounds
// how long a record survives without an outcome; zero means DefaultTTL.
func NewRistrettoStore(ttl time.Duration) (*RistrettoStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		// One counter slot per expected conversation, ×10 per the
		// ristretto sizing guidance.
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &RistrettoStore{cache: cache, ttl: ttl}, nil
}

func (s *RistrettoStore) Put(ctx context.Context, rec *Record) error {
	if rec.ConversationID == "" {
		return fmt.Errorf("conversation ID cannot be empty")
	}
	s.cache.SetWithTTL(rec.ConversationID, rec, 1, s.ttl)
	// Ristretto admits asynchronously; Wait makes the record visible to
	// an immediately following outcome on the same turn.
	s.cache.Wait()
	return nil
}

func (s *RistrettoStore) Get(ctx context.Context, conversationID string) (*Record, error) {
	v, ok := s.cache.Get(conversationID)
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := v.(*Record)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *RistrettoStore) Delete(ctx context.Context, conversationID string) error {
	s.cache.Del(conversationID)
	s.cache.Wait()
	return nil
}

func (s *RistrettoStore) Close() error {
	s.cache.Close()
	return nil
}
