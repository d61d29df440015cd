// Package vectorindex mirrors memory lifecycle state onto the search side.
//
// The durable store is authoritative for tier and status; the vector index
// carries a copy in each point's payload so search can filter without a
// join. The mirror is updated after the durable write and its failures are
// tolerated: search-side staleness self-heals on the next reindex pass,
// while the authoritative store is never left behind the mirror.
package vectorindex

import "context"

// Payload field names mirrored onto index points.
const (
	FieldTier   = "tier"
	FieldStatus = "status"
)

// Index updates lifecycle fields on stored points.
type Index interface {
	// UpdatePayload merges the given fields into the point's payload.
	UpdatePayload(ctx context.Context, memoryID string, payload map[string]any) error

	Close() error
}

// SetTier mirrors a tier transition onto idx.
func SetTier(ctx context.Context, idx Index, memoryID, tier string) error {
	return idx.UpdatePayload(ctx, memoryID, map[string]any{FieldTier: tier})
}

// SetStatus mirrors an archive transition onto idx.
func SetStatus(ctx context.Context, idx Index, memoryID, status string) error {
	return idx.UpdatePayload(ctx, memoryID, map[string]any{FieldStatus: status})
}
