// Package kg records structural knowledge extracted from conversations:
// entity nodes, relation edges and per-action effectiveness statistics.
//
// Updates arrive at conversational speed but each one only moves a handful of
// counters, so the package is built around a write-coalescing buffer: deltas
// for the same key are merged in memory and flushed periodically as atomic
// expression upserts against the durable store. Statistics here are
// telemetry-grade; a delta dropped during a storage outage is acceptable
// loss, unlike the authoritative memory records.
package kg

import (
	"errors"
	"time"
)

// Common errors for knowledge-graph operations.
var (
	ErrNotFound    = errors.New("knowledge-graph record not found")
	ErrEmptyUserID = errors.New("user ID cannot be empty")
	ErrEmptyKey    = errors.New("knowledge-graph key cannot be empty")
)

// WildcardTier is the tier key of the tier-agnostic action rollup row.
const WildcardTier = "*"

// NodeDelta is an in-memory accumulation of entity-mention events for one
// (user, node) key. Counters add, sets union, SeenAt takes the max.
type NodeDelta struct {
	UserID string
	NodeID string

	// Label and NodeType are last-writer-wins; empty values never
	// overwrite stored ones.
	Label    string
	NodeType string

	Mentions   int64
	QualitySum float64

	// Aliases and MemoryIDs are provenance sets, unioned on merge.
	Aliases   map[string]struct{}
	MemoryIDs map[string]struct{}

	SeenAt time.Time
}

// merge folds other into d. Both deltas must share the same key.
func (d *NodeDelta) merge(other *NodeDelta) {
	if other.Label != "" {
		d.Label = other.Label
	}
	if other.NodeType != "" {
		d.NodeType = other.NodeType
	}
	d.Mentions += other.Mentions
	d.QualitySum += other.QualitySum
	for a := range other.Aliases {
		if d.Aliases == nil {
			d.Aliases = make(map[string]struct{})
		}
		d.Aliases[a] = struct{}{}
	}
	for m := range other.MemoryIDs {
		if d.MemoryIDs == nil {
			d.MemoryIDs = make(map[string]struct{})
		}
		d.MemoryIDs[m] = struct{}{}
	}
	if other.SeenAt.After(d.SeenAt) {
		d.SeenAt = other.SeenAt
	}
}

// EdgeDelta accumulates relation observations for one (user, edge) key.
type EdgeDelta struct {
	UserID string
	EdgeID string

	SourceID     string
	TargetID     string
	RelationType string

	Weight int64
	SeenAt time.Time
}

func (d *EdgeDelta) merge(other *EdgeDelta) {
	if other.SourceID != "" {
		d.SourceID = other.SourceID
	}
	if other.TargetID != "" {
		d.TargetID = other.TargetID
	}
	if other.RelationType != "" {
		d.RelationType = other.RelationType
	}
	d.Weight += other.Weight
	if other.SeenAt.After(d.SeenAt) {
		d.SeenAt = other.SeenAt
	}
}

// ActionDelta accumulates tool/action outcome counters for one
// (user, contextType, action, tier) key.
type ActionDelta struct {
	UserID      string
	ContextType string
	Action      string
	Tier        string

	Uses    int64
	Worked  int64
	Failed  int64
	Partial int64
	Unknown int64

	LatencyMsSum int64
	SeenAt       time.Time
}

func (d *ActionDelta) merge(other *ActionDelta) {
	d.Uses += other.Uses
	d.Worked += other.Worked
	d.Failed += other.Failed
	d.Partial += other.Partial
	d.Unknown += other.Unknown
	d.LatencyMsSum += other.LatencyMsSum
	if other.SeenAt.After(d.SeenAt) {
		d.SeenAt = other.SeenAt
	}
}

// Node is the durable entity record: created on first mention, updated
// additively forever.
type Node struct {
	UserID     string    `json:"user_id"`
	NodeID     string    `json:"node_id"`
	Label      string    `json:"label"`
	NodeType   string    `json:"node_type"`
	Aliases    []string  `json:"aliases,omitempty"`
	Mentions   int64     `json:"mentions"`
	QualitySum float64   `json:"quality_sum"`
	AvgQuality float64   `json:"avg_quality"`
	MemoryIDs  []string  `json:"memory_ids,omitempty"`
	FirstSeen  time.Time `json:"first_seen_at"`
	LastSeen   time.Time `json:"last_seen_at"`
}

// Edge is the durable relation record.
type Edge struct {
	UserID       string    `json:"user_id"`
	EdgeID       string    `json:"edge_id"`
	SourceID     string    `json:"source_id"`
	TargetID     string    `json:"target_id"`
	RelationType string    `json:"relation_type"`
	Weight       int64     `json:"weight"`
	FirstSeen    time.Time `json:"first_seen_at"`
	LastSeen     time.Time `json:"last_seen_at"`
}

// ActionStats is the durable action-effectiveness record for one tier key
// (a concrete tier or the "*" rollup).
type ActionStats struct {
	UserID      string `json:"user_id"`
	ContextType string `json:"context_type"`
	Action      string `json:"action"`
	TierKey     string `json:"tier_key"`

	Uses    int64 `json:"uses"`
	Worked  int64 `json:"worked"`
	Failed  int64 `json:"failed"`
	Partial int64 `json:"partial"`
	Unknown int64 `json:"unknown"`

	LatencyMsSum int64 `json:"latency_ms_sum"`

	SuccessRate float64 `json:"success_rate"`
	WilsonScore float64 `json:"wilson_score"`

	FirstSeen time.Time `json:"first_seen_at"`
	LastSeen  time.Time `json:"last_seen_at"`
}

// GraphCounts is the inspection read exposed to operational tooling.
type GraphCounts struct {
	Nodes int64 `json:"nodes"`
	Edges int64 `json:"edges"`
}

type nodeKey struct {
	userID string
	nodeID string
}

type edgeKey struct {
	userID string
	edgeID string
}

type actionKey struct {
	userID      string
	contextType string
	action      string
	tier        string
}
