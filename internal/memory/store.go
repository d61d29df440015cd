package memory

import (
	"context"
	"time"
)

// Store is the durable home of memory records.
//
// Mutations are expressed as atomic transformations of the stored row, never
// as read-then-write, so concurrent outcome recording and lifecycle
// transitions against the same (user, memory) pair commute.
type Store interface {
	// Put inserts or replaces a record. Used by ingestion and tests; the
	// engine itself only mutates records through the methods below.
	Put(ctx context.Context, rec *Record) error

	// Get retrieves a single record, ErrNotFound if absent.
	Get(ctx context.Context, userID, memoryID string) (*Record, error)

	// RecordOutcome atomically increments usage statistics for the given
	// records and recomputes their derived scores in the same statement.
	RecordOutcome(ctx context.Context, userID string, memoryIDs []string, result OutcomeDelta) error

	// QueryPromotable returns up to limit active records in tier whose
	// score and usage meet the promotion thresholds. Empty userID scans
	// all users.
	QueryPromotable(ctx context.Context, userID string, tier Tier, minScore float64, minUses int64, limit int) ([]*Record, error)

	// QueryExpired returns up to limit active records in tier created
	// before cutoff whose score is below preserveScore. Records at or
	// above preserveScore are preserved regardless of age.
	QueryExpired(ctx context.Context, userID string, tier Tier, cutoff time.Time, preserveScore float64, limit int) ([]*Record, error)

	// QueryGarbage returns up to limit active records in tier with a score
	// below maxScore and at least one recorded use. Never-used records
	// carry the neutral default score and are not candidates.
	QueryGarbage(ctx context.Context, userID string, tier Tier, maxScore float64, limit int) ([]*Record, error)

	// SetTier moves a record to a new tier.
	SetTier(ctx context.Context, userID, memoryID string, tier Tier) error

	// SetStatus transitions a record between active and archived.
	SetStatus(ctx context.Context, userID, memoryID string, status Status) error

	// TierCounts returns the number of active records per tier for a user.
	TierCounts(ctx context.Context, userID string) (map[Tier]int64, error)

	Close() error
}

// OutcomeDelta is the per-outcome increment applied by RecordOutcome.
// Exactly one field is 1 in normal operation; the struct form keeps the
// store statement shape independent of the outcome taxonomy.
type OutcomeDelta struct {
	Worked  int64
	Failed  int64
	Partial int64
	Unknown int64
}
