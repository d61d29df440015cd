package correlator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store persists surfaced-memory records between a response being surfaced
// and its outcome being attributed.
//
// Implementations: RistrettoStore (in-process, default) and RedisStore
// (shared across backend instances).
type Store interface {
	// Put upserts the record for its conversation id, replacing any prior
	// record. Only the most recent turn's surfaced set is retained.
	Put(ctx context.Context, rec *Record) error

	// Get retrieves the live record for a conversation, ErrNotFound if it
	// is absent or past its expiry.
	Get(ctx context.Context, conversationID string) (*Record, error)

	// Delete removes the record. Deleting an absent record is a no-op.
	Delete(ctx context.Context, conversationID string) error

	Close() error
}

// Correlator wraps a Store with the never-propagate contract: every method
// catches and logs failures, returning degraded output instead.
type Correlator struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger

	// now is injectable for expiry tests.
	now func() time.Time
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithTTL overrides the record expiry window. Default one hour.
func WithTTL(ttl time.Duration) Option {
	return func(c *Correlator) { c.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// New creates a Correlator over store.
func New(store Store, logger *zap.Logger, opts ...Option) *Correlator {
	c := &Correlator{
		store:  store,
		ttl:    DefaultTTL,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Remember stores the surfaced set for a conversation turn. Failures are
// logged and swallowed.
func (c *Correlator) Remember(ctx context.Context, rec *Record) {
	if rec == nil || rec.ConversationID == "" {
		return
	}
	now := c.now()
	rec.SurfacedAt = now
	rec.ExpiresAt = now.Add(c.ttl)

	if err := c.store.Put(ctx, rec); err != nil {
		storeFailures.Inc()
		c.logger.Warn("failed to store surfaced memories",
			zap.String("conversation_id", rec.ConversationID),
			zap.Error(err))
	}
}

// Lookup returns the live surfaced set for a conversation, or nil when none
// exists, it expired, or the store failed.
func (c *Correlator) Lookup(ctx context.Context, conversationID string) *Record {
	rec, err := c.store.Get(ctx, conversationID)
	if err != nil {
		lookupMisses.Inc()
		return nil
	}
	// The read-side expiry check makes TTL behavior independent of the
	// backing store's eviction timing.
	if c.now().After(rec.ExpiresAt) {
		lookupMisses.Inc()
		return nil
	}
	lookupHits.Inc()
	return rec
}

// Clear deletes the record once an outcome has been attributed, preventing
// the same surfaced set from being double-scored by a stale read.
func (c *Correlator) Clear(ctx context.Context, conversationID string) {
	if err := c.store.Delete(ctx, conversationID); err != nil {
		storeFailures.Inc()
		c.logger.Warn("failed to clear surfaced memories",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
}
