// Package memory defines the MemoryRecord model and its durable store.
//
// A MemoryRecord is a remembered fragment of a past interaction. Its trust is
// tracked as usage statistics (worked/failed/partial/unknown counts) from
// which a Wilson lower-bound confidence score is derived. Records migrate
// between tiers under the control of the lifecycle manager and are only ever
// mutated through the store's atomic update statements.
package memory

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/outcome"
)

// Common errors for memory operations.
var (
	ErrNotFound       = errors.New("memory record not found")
	ErrEmptyUserID    = errors.New("user ID cannot be empty")
	ErrEmptyMemoryID  = errors.New("memory ID cannot be empty")
	ErrInvalidTier    = errors.New("invalid memory tier")
	ErrInvalidOutcome = errors.New("invalid outcome")
)

// Tier is a named stage in a record's trust lifecycle.
type Tier string

const (
	// TierWorking holds fresh, unproven memories from recent turns.
	TierWorking Tier = "working"

	// TierHistory holds memories that earned some trust.
	TierHistory Tier = "history"

	// TierPatterns holds memories proven useful repeatedly.
	TierPatterns Tier = "patterns"

	// TierMemoryBank holds explicitly saved user facts.
	TierMemoryBank Tier = "memory_bank"

	// TierBooks holds ingested reference documents.
	TierBooks Tier = "books"

	// TierSystem holds operator-provisioned memories.
	TierSystem Tier = "system"
)

// AllTiers lists every defined tier.
var AllTiers = []Tier{
	TierWorking, TierHistory, TierPatterns,
	TierMemoryBank, TierBooks, TierSystem,
}

// Valid reports whether t is a defined tier.
func (t Tier) Valid() bool {
	for _, known := range AllTiers {
		if t == known {
			return true
		}
	}
	return false
}

// Status is a record's lifecycle status.
type Status string

const (
	// StatusActive records participate in search and promotion.
	StatusActive Status = "active"

	// StatusArchived records are retained but excluded from all candidate
	// queries.
	StatusArchived Status = "archived"
)

// Stats holds a record's usage statistics and derived confidence scores.
type Stats struct {
	Uses    int64 `json:"uses"`
	Worked  int64 `json:"worked"`
	Failed  int64 `json:"failed"`
	Partial int64 `json:"partial"`
	Unknown int64 `json:"unknown"`

	// SuccessRate is worked/(worked+failed), 0.5 on empty denominator.
	SuccessRate float64 `json:"success_rate"`

	// WilsonScore is the Wilson lower bound over the worked/failed pair.
	// Partial and unknown outcomes contribute to Uses only.
	WilsonScore float64 `json:"wilson_score"`
}

// Record is a single remembered fragment owned by one user.
type Record struct {
	MemoryID  string    `json:"memory_id"`
	UserID    string    `json:"user_id"`
	Tier      Tier      `json:"tier"`
	Status    Status    `json:"status"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Stats     Stats     `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks identity and enum fields.
func (r *Record) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.MemoryID == "" {
		return ErrEmptyMemoryID
	}
	if !r.Tier.Valid() {
		return ErrInvalidTier
	}
	if r.Status != StatusActive && r.Status != StatusArchived {
		return errors.New("status must be 'active' or 'archived'")
	}
	return nil
}

// DeltaForOutcome maps a classified outcome to the counter increment the
// store applies.
func DeltaForOutcome(o outcome.Outcome) (OutcomeDelta, error) {
	switch o {
	case outcome.OutcomeWorked:
		return OutcomeDelta{Worked: 1}, nil
	case outcome.OutcomeFailed:
		return OutcomeDelta{Failed: 1}, nil
	case outcome.OutcomePartial:
		return OutcomeDelta{Partial: 1}, nil
	case outcome.OutcomeUnknown:
		return OutcomeDelta{Unknown: 1}, nil
	}
	return OutcomeDelta{}, ErrInvalidOutcome
}
