package lifecycle

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

const defaultBatchSize = 256

// CycleStats summarizes one lifecycle cycle.
type CycleStats struct {
	Promoted int `json:"promoted"`
	Expired  int `json:"expired"`
	Cleaned  int `json:"cleaned"`

	// Errors counts transitions that failed. A failed transition leaves
	// its record untouched for the next cycle; it never aborts the pass.
	Errors int `json:"errors"`

	// Skipped is true when the cycle was a no-op because another cycle
	// was already in flight.
	Skipped bool `json:"skipped,omitempty"`
}

func (s *CycleStats) add(other CycleStats) {
	s.Promoted += other.Promoted
	s.Expired += other.Expired
	s.Cleaned += other.Cleaned
	s.Errors += other.Errors
}

// Manager runs promotion, TTL, and garbage passes over the memory store and
// mirrors every transition onto the vector index.
//
// At most one cycle runs at a time. A cycle triggered while another is in
// flight returns immediately with zero stats; the store is the source of
// truth, so a skipped trigger loses nothing that the next cycle won't find.
type Manager struct {
	store memory.Store
	index vectorindex.Index
	log   *zap.Logger

	promotions []PromotionRule
	ttls       []TTLRule
	garbage    GarbageRule
	batchSize  int
	now        func() time.Time

	inFlight atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPromotionRules overrides the default promotion ladder.
func WithPromotionRules(rules []PromotionRule) ManagerOption {
	return func(m *Manager) { m.promotions = rules }
}

// WithTTLRules overrides the default expiry rules.
func WithTTLRules(rules []TTLRule) ManagerOption {
	return func(m *Manager) { m.ttls = rules }
}

// WithGarbageRule overrides the default garbage collection rule.
func WithGarbageRule(rule GarbageRule) ManagerOption {
	return func(m *Manager) { m.garbage = rule }
}

// WithBatchSize sets how many candidates each pass fetches per query.
func WithBatchSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithClock injects a time source for expiry tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a lifecycle manager with the default rules.
func NewManager(store memory.Store, index vectorindex.Index, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		index:      index,
		log:        logger,
		promotions: DefaultPromotionRules(),
		ttls:       DefaultTTLRules(),
		garbage:    DefaultGarbageRule(),
		batchSize:  defaultBatchSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cycle runs one full lifecycle pass over all users.
func (m *Manager) Cycle(ctx context.Context) (CycleStats, error) {
	return m.run(ctx, "")
}

// RunForUser runs one lifecycle pass scoped to a single user. Used by the
// message-count trigger so a busy conversation gets prompt promotion without
// waiting for the next scheduled cycle.
func (m *Manager) RunForUser(ctx context.Context, userID string) (CycleStats, error) {
	return m.run(ctx, userID)
}

func (m *Manager) run(ctx context.Context, userID string) (CycleStats, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.log.Debug("lifecycle cycle already in flight, skipping",
			zap.String("user_id", userID))
		return CycleStats{Skipped: true}, nil
	}
	defer m.inFlight.Store(false)

	start := time.Now()
	var stats CycleStats

	for _, rule := range m.promotions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.add(m.promotionPass(ctx, userID, rule))
	}
	for _, rule := range m.ttls {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.add(m.ttlPass(ctx, userID, rule))
	}
	for _, tier := range m.garbage.Tiers {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.add(m.garbagePass(ctx, userID, tier))
	}

	cycleDuration.Observe(time.Since(start).Seconds())
	m.log.Info("lifecycle cycle completed",
		zap.String("user_id", userID),
		zap.Int("promoted", stats.Promoted),
		zap.Int("expired", stats.Expired),
		zap.Int("cleaned", stats.Cleaned),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", time.Since(start)),
	)
	return stats, nil
}

func (m *Manager) promotionPass(ctx context.Context, userID string, rule PromotionRule) CycleStats {
	var stats CycleStats
	for {
		batch, err := m.store.QueryPromotable(ctx, userID, rule.From, rule.MinScore, rule.MinUses, m.batchSize)
		if err != nil {
			m.log.Error("query promotable failed",
				zap.String("from", string(rule.From)), zap.Error(err))
			stats.Errors++
			cycleErrorsTotal.Inc()
			return stats
		}
		progressed := 0
		for _, rec := range batch {
			if err := m.store.SetTier(ctx, rec.UserID, rec.MemoryID, rule.To); err != nil {
				m.log.Error("promote failed",
					zap.String("user_id", rec.UserID),
					zap.String("memory_id", rec.MemoryID),
					zap.Error(err))
				stats.Errors++
				cycleErrorsTotal.Inc()
				continue
			}
			m.mirrorTier(ctx, rec.MemoryID, rule.To, &stats)
			stats.Promoted++
			progressed++
			promotedTotal.WithLabelValues(string(rule.From), string(rule.To)).Inc()
		}
		// Promoted records leave the source tier, so repeating the query
		// pages through the remainder. Stop once a batch comes up short,
		// or when a full batch made no progress: the same rows would just
		// come back.
		if len(batch) < m.batchSize || progressed == 0 {
			return stats
		}
	}
}

func (m *Manager) ttlPass(ctx context.Context, userID string, rule TTLRule) CycleStats {
	var stats CycleStats
	cutoff := m.now().Add(-rule.MaxAge)
	for {
		batch, err := m.store.QueryExpired(ctx, userID, rule.Tier, cutoff, rule.PreserveScore, m.batchSize)
		if err != nil {
			m.log.Error("query expired failed",
				zap.String("tier", string(rule.Tier)), zap.Error(err))
			stats.Errors++
			cycleErrorsTotal.Inc()
			return stats
		}
		progressed := 0
		for _, rec := range batch {
			if m.archive(ctx, rec.UserID, rec.MemoryID, &stats) {
				stats.Expired++
				progressed++
				expiredTotal.WithLabelValues(string(rule.Tier)).Inc()
			}
		}
		if len(batch) < m.batchSize || progressed == 0 {
			return stats
		}
	}
}

func (m *Manager) garbagePass(ctx context.Context, userID string, tier memory.Tier) CycleStats {
	var stats CycleStats
	for {
		batch, err := m.store.QueryGarbage(ctx, userID, tier, m.garbage.MaxScore, m.batchSize)
		if err != nil {
			m.log.Error("query garbage failed",
				zap.String("tier", string(tier)), zap.Error(err))
			stats.Errors++
			cycleErrorsTotal.Inc()
			return stats
		}
		progressed := 0
		for _, rec := range batch {
			if m.archive(ctx, rec.UserID, rec.MemoryID, &stats) {
				stats.Cleaned++
				progressed++
				cleanedTotal.WithLabelValues(string(tier)).Inc()
			}
		}
		if len(batch) < m.batchSize || progressed == 0 {
			return stats
		}
	}
}

// archive marks the record archived in the store, then mirrors the status.
// Returns false if the durable write failed.
func (m *Manager) archive(ctx context.Context, userID, memoryID string, stats *CycleStats) bool {
	if err := m.store.SetStatus(ctx, userID, memoryID, memory.StatusArchived); err != nil {
		m.log.Error("archive failed",
			zap.String("user_id", userID),
			zap.String("memory_id", memoryID),
			zap.Error(err))
		stats.Errors++
		cycleErrorsTotal.Inc()
		return false
	}
	if m.index == nil {
		return true
	}
	if err := vectorindex.SetStatus(ctx, m.index, memoryID, string(memory.StatusArchived)); err != nil {
		m.log.Warn("index status mirror failed, store remains authoritative",
			zap.String("memory_id", memoryID), zap.Error(err))
		stats.Errors++
		cycleErrorsTotal.Inc()
	}
	return true
}

func (m *Manager) mirrorTier(ctx context.Context, memoryID string, tier memory.Tier, stats *CycleStats) {
	if m.index == nil {
		return
	}
	if err := vectorindex.SetTier(ctx, m.index, memoryID, string(tier)); err != nil {
		m.log.Warn("index tier mirror failed, store remains authoritative",
			zap.String("memory_id", memoryID), zap.Error(err))
		stats.Errors++
		cycleErrorsTotal.Inc()
	}
}
