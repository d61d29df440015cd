// Package correlator remembers which memory fragments were surfaced in a
// conversation turn so that a later-detected outcome can be attributed back
// to them.
//
// Records are short-lived: one per conversation, replaced on every surfacing
// turn, deleted explicitly once an outcome is recorded, and expired by TTL
// otherwise. Correlation is a best-effort enhancement to scoring — every
// operation degrades to a logged no-op on failure and nothing here may ever
// block or fail the response path.
package correlator

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no live record exists for a
// conversation (absent, expired, or cleared).
var ErrNotFound = errors.New("no surfaced-memory record")

// DefaultTTL is the auto-expiry window for surfaced-memory records.
const DefaultTTL = time.Hour

// SurfacedMemory is one fragment's placement in a surfaced turn.
type SurfacedMemory struct {
	// Position is the 1-based rank the retrieval step assigned.
	Position int `json:"position"`

	// Tier is the fragment's tier at surfacing time.
	Tier string `json:"tier"`

	// Score is the retrieval score.
	Score float64 `json:"score"`

	// Preview is a short content excerpt for inspection.
	Preview string `json:"preview,omitempty"`
}

// Record captures everything surfaced in one conversation turn.
type Record struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`

	// Memories maps memory_id to its placement.
	Memories map[string]SurfacedMemory `json:"memories"`

	// ResponsePreview is an excerpt of the assistant response the
	// memories fed into.
	ResponsePreview string `json:"response_preview,omitempty"`

	SurfacedAt time.Time `json:"surfaced_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// MemoryIDs returns the surfaced memory ids.
func (r *Record) MemoryIDs() []string {
	ids := make([]string, 0, len(r.Memories))
	for id := range r.Memories {
		ids = append(ids, id)
	}
	return ids
}
