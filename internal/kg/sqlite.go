package kg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore implements DeltaStore plus the inspection reads on a shared
// SQLite handle.
//
// Every delta application is an INSERT ... ON CONFLICT DO UPDATE whose SET
// clause computes the new value from the stored value plus the delta, with
// derived fields recomputed in the same statement via the registered
// wilson_lower_bound / success_rate functions. Alias and provenance sets
// live in side tables where INSERT OR IGNORE gives set-union semantics.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore initializes the knowledge-graph schema on db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate kg: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kg_nodes (
			user_id       TEXT NOT NULL,
			node_id       TEXT NOT NULL,
			label         TEXT NOT NULL DEFAULT '',
			node_type     TEXT NOT NULL DEFAULT '',
			mentions      INTEGER NOT NULL DEFAULT 0,
			quality_sum   REAL NOT NULL DEFAULT 0,
			avg_quality   REAL NOT NULL DEFAULT 0,
			first_seen_at INTEGER NOT NULL,
			last_seen_at  INTEGER NOT NULL,
			PRIMARY KEY (user_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS kg_node_aliases (
			user_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			alias   TEXT NOT NULL,
			PRIMARY KEY (user_id, node_id, alias)
		)`,
		`CREATE TABLE IF NOT EXISTS kg_node_memories (
			user_id   TEXT NOT NULL,
			node_id   TEXT NOT NULL,
			memory_id TEXT NOT NULL,
			PRIMARY KEY (user_id, node_id, memory_id)
		)`,
		`CREATE TABLE IF NOT EXISTS kg_edges (
			user_id       TEXT NOT NULL,
			edge_id       TEXT NOT NULL,
			source_id     TEXT NOT NULL DEFAULT '',
			target_id     TEXT NOT NULL DEFAULT '',
			relation_type TEXT NOT NULL DEFAULT '',
			weight        INTEGER NOT NULL DEFAULT 0,
			first_seen_at INTEGER NOT NULL,
			last_seen_at  INTEGER NOT NULL,
			PRIMARY KEY (user_id, edge_id)
		)`,
		`CREATE TABLE IF NOT EXISTS kg_action_stats (
			user_id        TEXT NOT NULL,
			context_type   TEXT NOT NULL,
			action         TEXT NOT NULL,
			tier_key       TEXT NOT NULL,
			uses           INTEGER NOT NULL DEFAULT 0,
			worked         INTEGER NOT NULL DEFAULT 0,
			failed         INTEGER NOT NULL DEFAULT 0,
			partial        INTEGER NOT NULL DEFAULT 0,
			unknown        INTEGER NOT NULL DEFAULT 0,
			latency_ms_sum INTEGER NOT NULL DEFAULT 0,
			success_rate   REAL NOT NULL DEFAULT 0.5,
			wilson_score   REAL NOT NULL DEFAULT 0.5,
			first_seen_at  INTEGER NOT NULL,
			last_seen_at   INTEGER NOT NULL,
			PRIMARY KEY (user_id, context_type, action, tier_key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

// ApplyNodeDeltas applies each node delta in its own transaction: the
// counter upsert plus the alias/provenance set unions commit together.
func (s *SQLiteStore) ApplyNodeDeltas(ctx context.Context, deltas []*NodeDelta) error {
	const upsert = `INSERT INTO kg_nodes
		(user_id, node_id, label, node_type, mentions, quality_sum, avg_quality,
		 first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?,
			CASE WHEN ? > 0 THEN ? / ? ELSE 0 END,
			?, ?)
		ON CONFLICT(user_id, node_id) DO UPDATE SET
			label = CASE WHEN excluded.label != '' THEN excluded.label ELSE label END,
			node_type = CASE WHEN excluded.node_type != '' THEN excluded.node_type ELSE node_type END,
			mentions = mentions + excluded.mentions,
			quality_sum = quality_sum + excluded.quality_sum,
			avg_quality = CASE WHEN mentions + excluded.mentions > 0
				THEN (quality_sum + excluded.quality_sum) / (mentions + excluded.mentions)
				ELSE 0 END,
			last_seen_at = MAX(last_seen_at, excluded.last_seen_at)`

	var firstErr error
	for _, d := range deltas {
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			seen := d.SeenAt.Unix()
			if _, err := tx.ExecContext(ctx, upsert,
				d.UserID, d.NodeID, d.Label, d.NodeType,
				d.Mentions, d.QualitySum,
				d.Mentions, d.QualitySum, float64(d.Mentions),
				seen, seen,
			); err != nil {
				return err
			}
			for alias := range d.Aliases {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO kg_node_aliases (user_id, node_id, alias) VALUES (?, ?, ?)`,
					d.UserID, d.NodeID, alias); err != nil {
					return err
				}
			}
			for memID := range d.MemoryIDs {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO kg_node_memories (user_id, node_id, memory_id) VALUES (?, ?, ?)`,
					d.UserID, d.NodeID, memID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("apply node delta %s/%s: %w", d.UserID, d.NodeID, err)
		}
	}
	return firstErr
}

func (s *SQLiteStore) ApplyEdgeDeltas(ctx context.Context, deltas []*EdgeDelta) error {
	const upsert = `INSERT INTO kg_edges
		(user_id, edge_id, source_id, target_id, relation_type, weight,
		 first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, edge_id) DO UPDATE SET
			source_id = CASE WHEN excluded.source_id != '' THEN excluded.source_id ELSE source_id END,
			target_id = CASE WHEN excluded.target_id != '' THEN excluded.target_id ELSE target_id END,
			relation_type = CASE WHEN excluded.relation_type != '' THEN excluded.relation_type ELSE relation_type END,
			weight = weight + excluded.weight,
			last_seen_at = MAX(last_seen_at, excluded.last_seen_at)`

	var firstErr error
	for _, d := range deltas {
		seen := d.SeenAt.Unix()
		_, err := s.db.ExecContext(ctx, upsert,
			d.UserID, d.EdgeID, d.SourceID, d.TargetID, d.RelationType,
			d.Weight, seen, seen)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("apply edge delta %s/%s: %w", d.UserID, d.EdgeID, err)
		}
	}
	return firstErr
}

// ApplyActionDeltas writes each delta twice: once under its concrete tier
// key and once under the "*" rollup, so tier-agnostic queries never scan
// per-tier rows.
func (s *SQLiteStore) ApplyActionDeltas(ctx context.Context, deltas []*ActionDelta) error {
	const upsert = `INSERT INTO kg_action_stats
		(user_id, context_type, action, tier_key,
		 uses, worked, failed, partial, unknown, latency_ms_sum,
		 success_rate, wilson_score, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			success_rate(?, ?), wilson_lower_bound(?, ?), ?, ?)
		ON CONFLICT(user_id, context_type, action, tier_key) DO UPDATE SET
			uses = uses + excluded.uses,
			worked = worked + excluded.worked,
			failed = failed + excluded.failed,
			partial = partial + excluded.partial,
			unknown = unknown + excluded.unknown,
			latency_ms_sum = latency_ms_sum + excluded.latency_ms_sum,
			success_rate = success_rate(worked + excluded.worked, failed + excluded.failed),
			wilson_score = wilson_lower_bound(worked + excluded.worked, failed + excluded.failed),
			last_seen_at = MAX(last_seen_at, excluded.last_seen_at)`

	var firstErr error
	for _, d := range deltas {
		seen := d.SeenAt.Unix()
		for _, tierKey := range []string{d.Tier, WildcardTier} {
			_, err := s.db.ExecContext(ctx, upsert,
				d.UserID, d.ContextType, d.Action, tierKey,
				d.Uses, d.Worked, d.Failed, d.Partial, d.Unknown, d.LatencyMsSum,
				d.Worked, d.Failed,
				d.Worked, d.Failed,
				seen, seen)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("apply action delta %s/%s/%s: %w",
					d.UserID, d.ContextType, d.Action, err)
			}
		}
	}
	return firstErr
}

// GetNode retrieves a node with its alias and provenance sets.
func (s *SQLiteStore) GetNode(ctx context.Context, userID, nodeID string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, node_id, label, node_type,
		mentions, quality_sum, avg_quality, first_seen_at, last_seen_at
		FROM kg_nodes WHERE user_id = ? AND node_id = ?`, userID, nodeID)

	var n Node
	var first, last int64
	err := row.Scan(&n.UserID, &n.NodeID, &n.Label, &n.NodeType,
		&n.Mentions, &n.QualitySum, &n.AvgQuality, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s/%s: %w", userID, nodeID, err)
	}
	n.FirstSeen = time.Unix(first, 0)
	n.LastSeen = time.Unix(last, 0)

	n.Aliases, err = s.stringSet(ctx,
		`SELECT alias FROM kg_node_aliases WHERE user_id = ? AND node_id = ? ORDER BY alias`,
		userID, nodeID)
	if err != nil {
		return nil, err
	}
	n.MemoryIDs, err = s.stringSet(ctx,
		`SELECT memory_id FROM kg_node_memories WHERE user_id = ? AND node_id = ? ORDER BY memory_id`,
		userID, nodeID)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetEdge retrieves a single edge.
func (s *SQLiteStore) GetEdge(ctx context.Context, userID, edgeID string) (*Edge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, edge_id, source_id, target_id,
		relation_type, weight, first_seen_at, last_seen_at
		FROM kg_edges WHERE user_id = ? AND edge_id = ?`, userID, edgeID)

	var e Edge
	var first, last int64
	err := row.Scan(&e.UserID, &e.EdgeID, &e.SourceID, &e.TargetID,
		&e.RelationType, &e.Weight, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get edge %s/%s: %w", userID, edgeID, err)
	}
	e.FirstSeen = time.Unix(first, 0)
	e.LastSeen = time.Unix(last, 0)
	return &e, nil
}

// GetActionStats retrieves one action-effectiveness row. Pass WildcardTier
// as tierKey for the tier-agnostic aggregate.
func (s *SQLiteStore) GetActionStats(ctx context.Context, userID, contextType, action, tierKey string) (*ActionStats, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, context_type, action, tier_key,
		uses, worked, failed, partial, unknown, latency_ms_sum,
		success_rate, wilson_score, first_seen_at, last_seen_at
		FROM kg_action_stats
		WHERE user_id = ? AND context_type = ? AND action = ? AND tier_key = ?`,
		userID, contextType, action, tierKey)

	var a ActionStats
	var first, last int64
	err := row.Scan(&a.UserID, &a.ContextType, &a.Action, &a.TierKey,
		&a.Uses, &a.Worked, &a.Failed, &a.Partial, &a.Unknown, &a.LatencyMsSum,
		&a.SuccessRate, &a.WilsonScore, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action stats %s/%s/%s/%s: %w",
			userID, contextType, action, tierKey, err)
	}
	a.FirstSeen = time.Unix(first, 0)
	a.LastSeen = time.Unix(last, 0)
	return &a, nil
}

// Counts returns the node and edge totals for a user.
func (s *SQLiteStore) Counts(ctx context.Context, userID string) (GraphCounts, error) {
	var c GraphCounts
	row := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM kg_nodes WHERE user_id = ?),
			(SELECT COUNT(*) FROM kg_edges WHERE user_id = ?)`,
		userID, userID)
	if err := row.Scan(&c.Nodes, &c.Edges); err != nil {
		return GraphCounts{}, fmt.Errorf("kg counts for %s: %w", userID, err)
	}
	return c, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) stringSet(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
