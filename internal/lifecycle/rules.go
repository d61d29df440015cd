// Package lifecycle moves memory records between tiers as evidence about
// them accumulates.
//
// A cycle runs three passes in a fixed order: promotion first, so a record
// that just earned its score climbs before age is judged; TTL expiry second;
// garbage collection last, so it only sees records the earlier passes left
// behind. Each transition is written to the durable store before being
// mirrored onto the vector index.
package lifecycle

import (
	"time"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// PromotionRule lifts records from one tier to the next once their Wilson
// score and usage both clear the bar.
type PromotionRule struct {
	From     memory.Tier
	To       memory.Tier
	MinScore float64
	MinUses  int64
}

// TTLRule archives records in a tier once they outlive MaxAge, unless their
// score has reached PreserveScore.
type TTLRule struct {
	Tier          memory.Tier
	MaxAge        time.Duration
	PreserveScore float64
}

// GarbageRule archives used records whose score fell below MaxScore.
// Unused records keep the neutral default score and are never collected.
type GarbageRule struct {
	Tiers    []memory.Tier
	MaxScore float64
}

// DefaultPromotionRules are ordered highest tier first so a record climbs at
// most one tier per cycle.
func DefaultPromotionRules() []PromotionRule {
	return []PromotionRule{
		{From: memory.TierHistory, To: memory.TierPatterns, MinScore: 0.9, MinUses: 3},
		{From: memory.TierWorking, To: memory.TierHistory, MinScore: 0.7, MinUses: 2},
	}
}

// DefaultTTLRules expire working memories after a day and history after a
// month, preserving anything that has proven itself.
func DefaultTTLRules() []TTLRule {
	return []TTLRule{
		{Tier: memory.TierWorking, MaxAge: 24 * time.Hour, PreserveScore: 0.8},
		{Tier: memory.TierHistory, MaxAge: 30 * 24 * time.Hour, PreserveScore: 0.7},
	}
}

// DefaultGarbageRule collects demonstrably failing records from the earned
// tiers. Curated tiers (memory_bank, books, system) are never collected.
func DefaultGarbageRule() GarbageRule {
	return GarbageRule{
		Tiers:    []memory.Tier{memory.TierWorking, memory.TierHistory, memory.TierPatterns},
		MaxScore: 0.2,
	}
}
