package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/scoring"
	"github.com/fyrsmithlabs/recalld/internal/sqlitedb"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sqlitedb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return s
}

func testRecord(userID, memoryID string, tier Tier) *Record {
	return &Record{
		MemoryID:  memoryID,
		UserID:    userID,
		Tier:      tier,
		Status:    StatusActive,
		Content:   "prefers tabs over spaces",
		Tags:      []string{"preference"},
		Stats:     Stats{SuccessRate: 0.5, WilsonScore: 0.5},
		CreatedAt: time.Now(),
	}
}

func TestSQLiteStore_PutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("u1", "m1", TierWorking)
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, TierWorking, got.Tier)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, []string{"preference"}, got.Tags)
	assert.InDelta(t, 0.5, got.Stats.WilsonScore, 1e-9)

	_, err = s.Get(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_RecordOutcomeRecomputesScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testRecord("u1", "m1", TierWorking)))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordOutcome(ctx, "u1", []string{"m1"}, OutcomeDelta{Worked: 1}))
	}
	require.NoError(t, s.RecordOutcome(ctx, "u1", []string{"m1"}, OutcomeDelta{Failed: 1}))
	require.NoError(t, s.RecordOutcome(ctx, "u1", []string{"m1"}, OutcomeDelta{Partial: 1}))

	got, err := s.Get(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Stats.Uses)
	assert.EqualValues(t, 3, got.Stats.Worked)
	assert.EqualValues(t, 1, got.Stats.Failed)
	assert.EqualValues(t, 1, got.Stats.Partial)

	// Derived scores cover the worked/failed pair only.
	assert.InDelta(t, 0.75, got.Stats.SuccessRate, 1e-9)
	assert.InDelta(t, scoring.Wilson(3, 4), got.Stats.WilsonScore, 1e-9)
}

func TestSQLiteStore_RecordOutcomeUnknownRecordIsNoop(t *testing.T) {
	s := newTestStore(t)
	// No row matches; the statement affects nothing and returns no error.
	assert.NoError(t, s.RecordOutcome(context.Background(), "u1", []string{"ghost"}, OutcomeDelta{Worked: 1}))
}

func TestSQLiteStore_QueryPromotable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	eligible := testRecord("u1", "m1", TierWorking)
	eligible.Stats = Stats{Uses: 3, Worked: 3, WilsonScore: 0.75, SuccessRate: 1}
	require.NoError(t, s.Put(ctx, eligible))

	fewUses := testRecord("u1", "m2", TierWorking)
	fewUses.Stats = Stats{Uses: 1, Worked: 1, WilsonScore: 0.95, SuccessRate: 1}
	require.NoError(t, s.Put(ctx, fewUses))

	archived := testRecord("u1", "m3", TierWorking)
	archived.Status = StatusArchived
	archived.Stats = Stats{Uses: 5, Worked: 5, WilsonScore: 0.9, SuccessRate: 1}
	require.NoError(t, s.Put(ctx, archived))

	got, err := s.QueryPromotable(ctx, "", TierWorking, 0.7, 2, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MemoryID)
}

func TestSQLiteStore_QueryExpiredPreservesHighScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := testRecord("u1", "m1", TierHistory)
	old.CreatedAt = time.Now().Add(-31 * 24 * time.Hour)
	old.Stats.WilsonScore = 0.5
	require.NoError(t, s.Put(ctx, old))

	preserved := testRecord("u1", "m2", TierHistory)
	preserved.CreatedAt = time.Now().Add(-31 * 24 * time.Hour)
	preserved.Stats.WilsonScore = 0.75
	require.NoError(t, s.Put(ctx, preserved))

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	got, err := s.QueryExpired(ctx, "", TierHistory, cutoff, 0.7, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MemoryID)
}

func TestSQLiteStore_QueryGarbageSkipsUnusedRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	garbage := testRecord("u1", "m1", TierPatterns)
	garbage.Stats = Stats{Uses: 5, Failed: 5, WilsonScore: 0.1}
	require.NoError(t, s.Put(ctx, garbage))

	unused := testRecord("u1", "m2", TierPatterns)
	unused.Stats = Stats{Uses: 0, WilsonScore: 0.1}
	require.NoError(t, s.Put(ctx, unused))

	got, err := s.QueryGarbage(ctx, "", TierPatterns, 0.2, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MemoryID)
}

func TestSQLiteStore_UserFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testRecord("alice", "m1", TierWorking)
	a.Stats = Stats{Uses: 3, WilsonScore: 0.9}
	require.NoError(t, s.Put(ctx, a))

	b := testRecord("bob", "m1", TierWorking)
	b.Stats = Stats{Uses: 3, WilsonScore: 0.9}
	require.NoError(t, s.Put(ctx, b))

	got, err := s.QueryPromotable(ctx, "alice", TierWorking, 0.7, 2, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].UserID)
}

func TestSQLiteStore_SetTierAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testRecord("u1", "m1", TierWorking)))

	require.NoError(t, s.SetTier(ctx, "u1", "m1", TierHistory))
	require.NoError(t, s.SetStatus(ctx, "u1", "m1", StatusArchived))

	got, err := s.Get(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, TierHistory, got.Tier)
	assert.Equal(t, StatusArchived, got.Status)

	assert.ErrorIs(t, s.SetTier(ctx, "u1", "ghost", TierHistory), ErrNotFound)
	assert.ErrorIs(t, s.SetTier(ctx, "u1", "m1", Tier("bogus")), ErrInvalidTier)
}

func TestSQLiteStore_TierCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testRecord("u1", "m1", TierWorking)))
	require.NoError(t, s.Put(ctx, testRecord("u1", "m2", TierWorking)))
	require.NoError(t, s.Put(ctx, testRecord("u1", "m3", TierHistory)))

	archived := testRecord("u1", "m4", TierWorking)
	archived.Status = StatusArchived
	require.NoError(t, s.Put(ctx, archived))

	counts, err := s.TierCounts(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[TierWorking])
	assert.EqualValues(t, 1, counts[TierHistory])
}
