package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore implements Store on a shared SQLite handle.
//
// Counter updates and derived-score recomputation happen inside single
// UPDATE statements using the wilson_lower_bound and success_rate scalar
// functions registered by the sqlitedb package.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore initializes the memories schema on db and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate memories: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			user_id      TEXT NOT NULL,
			memory_id    TEXT NOT NULL,
			tier         TEXT NOT NULL DEFAULT 'working',
			status       TEXT NOT NULL DEFAULT 'active',
			content      TEXT NOT NULL DEFAULT '',
			tags         TEXT NOT NULL DEFAULT '[]',
			uses         INTEGER NOT NULL DEFAULT 0,
			worked       INTEGER NOT NULL DEFAULT 0,
			failed       INTEGER NOT NULL DEFAULT 0,
			partial      INTEGER NOT NULL DEFAULT 0,
			unknown      INTEGER NOT NULL DEFAULT 0,
			success_rate REAL NOT NULL DEFAULT 0.5,
			wilson_score REAL NOT NULL DEFAULT 0.5,
			created_at   INTEGER NOT NULL,
			PRIMARY KEY (user_id, memory_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_tier_status
			ON memories(tier, status)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_status_score
			ON memories(status, wilson_score)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

const recordCols = `user_id, memory_id, tier, status, content, tags,
	uses, worked, failed, partial, unknown, success_rate, wilson_score, created_at`

func (s *SQLiteStore) Put(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO memories (`+recordCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.MemoryID, string(rec.Tier), string(rec.Status),
		rec.Content, string(tags),
		rec.Stats.Uses, rec.Stats.Worked, rec.Stats.Failed,
		rec.Stats.Partial, rec.Stats.Unknown,
		rec.Stats.SuccessRate, rec.Stats.WilsonScore,
		rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("put memory %s/%s: %w", rec.UserID, rec.MemoryID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID, memoryID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordCols+`
		FROM memories WHERE user_id = ? AND memory_id = ?`, userID, memoryID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s/%s: %w", userID, memoryID, err)
	}
	return rec, nil
}

// RecordOutcome applies the delta as a single UPDATE per record. Column
// references on the right-hand side are pre-update values, so the derived
// scores are computed over the incremented counters passed as parameters.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, userID string, memoryIDs []string, d OutcomeDelta) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if len(memoryIDs) == 0 {
		return nil
	}
	const stmt = `UPDATE memories SET
		uses = uses + 1,
		worked = worked + ?,
		failed = failed + ?,
		partial = partial + ?,
		unknown = unknown + ?,
		success_rate = success_rate(worked + ?, failed + ?),
		wilson_score = wilson_lower_bound(worked + ?, failed + ?)
		WHERE user_id = ? AND memory_id = ?`

	for _, id := range memoryIDs {
		_, err := s.db.ExecContext(ctx, stmt,
			d.Worked, d.Failed, d.Partial, d.Unknown,
			d.Worked, d.Failed,
			d.Worked, d.Failed,
			userID, id,
		)
		if err != nil {
			return fmt.Errorf("record outcome for %s/%s: %w", userID, id, err)
		}
	}
	return nil
}

func (s *SQLiteStore) QueryPromotable(ctx context.Context, userID string, tier Tier, minScore float64, minUses int64, limit int) ([]*Record, error) {
	q := `SELECT ` + recordCols + ` FROM memories
		WHERE tier = ? AND status = 'active'
		AND wilson_score >= ? AND uses >= ?`
	args := []any{string(tier), minScore, minUses}
	q, args = withUserFilter(q, args, userID)
	q += ` ORDER BY user_id, memory_id LIMIT ?`
	args = append(args, limit)
	return s.queryRecords(ctx, q, args...)
}

func (s *SQLiteStore) QueryExpired(ctx context.Context, userID string, tier Tier, cutoff time.Time, preserveScore float64, limit int) ([]*Record, error) {
	q := `SELECT ` + recordCols + ` FROM memories
		WHERE tier = ? AND status = 'active'
		AND created_at < ? AND wilson_score < ?`
	args := []any{string(tier), cutoff.Unix(), preserveScore}
	q, args = withUserFilter(q, args, userID)
	q += ` ORDER BY user_id, memory_id LIMIT ?`
	args = append(args, limit)
	return s.queryRecords(ctx, q, args...)
}

func (s *SQLiteStore) QueryGarbage(ctx context.Context, userID string, tier Tier, maxScore float64, limit int) ([]*Record, error) {
	q := `SELECT ` + recordCols + ` FROM memories
		WHERE tier = ? AND status = 'active'
		AND wilson_score < ? AND uses > 0`
	args := []any{string(tier), maxScore}
	q, args = withUserFilter(q, args, userID)
	q += ` ORDER BY user_id, memory_id LIMIT ?`
	args = append(args, limit)
	return s.queryRecords(ctx, q, args...)
}

func (s *SQLiteStore) SetTier(ctx context.Context, userID, memoryID string, tier Tier) error {
	if !tier.Valid() {
		return ErrInvalidTier
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET tier = ? WHERE user_id = ? AND memory_id = ?`,
		string(tier), userID, memoryID)
	if err != nil {
		return fmt.Errorf("set tier %s/%s: %w", userID, memoryID, err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetStatus(ctx context.Context, userID, memoryID string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET status = ? WHERE user_id = ? AND memory_id = ?`,
		string(status), userID, memoryID)
	if err != nil {
		return fmt.Errorf("set status %s/%s: %w", userID, memoryID, err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) TierCounts(ctx context.Context, userID string) (map[Tier]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM memories
		 WHERE user_id = ? AND status = 'active' GROUP BY tier`, userID)
	if err != nil {
		return nil, fmt.Errorf("tier counts for %s: %w", userID, err)
	}
	defer rows.Close()

	counts := make(map[Tier]int64)
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		counts[Tier(tier)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return nil // shared handle is owned by the caller
}

func (s *SQLiteStore) queryRecords(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var tier, status, tags string
	var createdAt int64
	err := row.Scan(&rec.UserID, &rec.MemoryID, &tier, &status,
		&rec.Content, &tags,
		&rec.Stats.Uses, &rec.Stats.Worked, &rec.Stats.Failed,
		&rec.Stats.Partial, &rec.Stats.Unknown,
		&rec.Stats.SuccessRate, &rec.Stats.WilsonScore,
		&createdAt)
	if err != nil {
		return nil, err
	}
	rec.Tier = Tier(tier)
	rec.Status = Status(status)
	rec.CreatedAt = time.Unix(createdAt, 0)
	if tags != "" && tags != "[]" {
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &rec, nil
}

func withUserFilter(q string, args []any, userID string) (string, []any) {
	if userID == "" {
		return q, args
	}
	if !strings.Contains(q, "WHERE") {
		return q + ` WHERE user_id = ?`, append(args, userID)
	}
	return q + ` AND user_id = ?`, append(args, userID)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
