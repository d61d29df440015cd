package kg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/scoring"
	"github.com/fyrsmithlabs/recalld/internal/sqlitedb"
)

func newKgStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sqlitedb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return s
}

func TestSQLiteStore_NodeUpsertAccumulates(t *testing.T) {
	s := newKgStore(t)
	ctx := context.Background()
	now := time.Now()

	first := &NodeDelta{
		UserID: "u1", NodeID: "n1", Label: "Gopher", NodeType: "person",
		Mentions: 2, QualitySum: 1.6,
		Aliases:   map[string]struct{}{"the gopher": {}},
		MemoryIDs: map[string]struct{}{"m1": {}},
		SeenAt:    now,
	}
	require.NoError(t, s.ApplyNodeDeltas(ctx, []*NodeDelta{first}))

	second := &NodeDelta{
		UserID: "u1", NodeID: "n1",
		Mentions: 3, QualitySum: 2.4,
		Aliases:   map[string]struct{}{"the gopher": {}, "g": {}},
		MemoryIDs: map[string]struct{}{"m1": {}, "m2": {}},
		SeenAt:    now.Add(time.Minute),
	}
	require.NoError(t, s.ApplyNodeDeltas(ctx, []*NodeDelta{second}))

	n, err := s.GetNode(ctx, "u1", "n1")
	require.NoError(t, err)

	assert.Equal(t, "Gopher", n.Label, "empty label must not overwrite")
	assert.Equal(t, "person", n.NodeType)
	assert.EqualValues(t, 5, n.Mentions)
	assert.InDelta(t, 4.0, n.QualitySum, 1e-9)
	assert.InDelta(t, 0.8, n.AvgQuality, 1e-9)
	assert.ElementsMatch(t, []string{"g", "the gopher"}, n.Aliases)
	assert.ElementsMatch(t, []string{"m1", "m2"}, n.MemoryIDs)
	assert.Equal(t, now.Add(time.Minute).Unix(), n.LastSeen.Unix())
}

func TestSQLiteStore_EdgeUpsertAccumulatesWeight(t *testing.T) {
	s := newKgStore(t)
	ctx := context.Background()

	d := &EdgeDelta{
		UserID: "u1", EdgeID: "e1",
		SourceID: "n1", TargetID: "n2", RelationType: "works_at",
		Weight: 1, SeenAt: time.Now(),
	}
	require.NoError(t, s.ApplyEdgeDeltas(ctx, []*EdgeDelta{d}))
	require.NoError(t, s.ApplyEdgeDeltas(ctx, []*EdgeDelta{d, d}))

	e, err := s.GetEdge(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, e.Weight)
	assert.Equal(t, "works_at", e.RelationType)
}

func TestSQLiteStore_ActionUpsertRecomputesScores(t *testing.T) {
	s := newKgStore(t)
	ctx := context.Background()

	mk := func(worked, failed int64) *ActionDelta {
		return &ActionDelta{
			UserID: "u1", ContextType: "coding", Action: "search_docs",
			Tier: "working", Uses: worked + failed,
			Worked: worked, Failed: failed, SeenAt: time.Now(),
		}
	}

	require.NoError(t, s.ApplyActionDeltas(ctx, []*ActionDelta{mk(3, 0)}))
	require.NoError(t, s.ApplyActionDeltas(ctx, []*ActionDelta{mk(1, 1)}))

	a, err := s.GetActionStats(ctx, "u1", "coding", "search_docs", "working")
	require.NoError(t, err)
	assert.EqualValues(t, 5, a.Uses)
	assert.EqualValues(t, 4, a.Worked)
	assert.EqualValues(t, 1, a.Failed)
	assert.InDelta(t, 0.8, a.SuccessRate, 1e-9)
	assert.InDelta(t, scoring.Wilson(4, 5), a.WilsonScore, 1e-9)
}

func TestSQLiteStore_ActionWildcardRollup(t *testing.T) {
	s := newKgStore(t)
	ctx := context.Background()

	deltas := []*ActionDelta{
		{UserID: "u1", ContextType: "coding", Action: "search_docs",
			Tier: "working", Uses: 2, Worked: 2, SeenAt: time.Now()},
		{UserID: "u1", ContextType: "coding", Action: "search_docs",
			Tier: "history", Uses: 1, Worked: 0, Failed: 1, SeenAt: time.Now()},
	}
	require.NoError(t, s.ApplyActionDeltas(ctx, deltas))

	rollup, err := s.GetActionStats(ctx, "u1", "coding", "search_docs", WildcardTier)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rollup.Uses)
	assert.EqualValues(t, 2, rollup.Worked)
	assert.EqualValues(t, 1, rollup.Failed)
	assert.InDelta(t, scoring.Wilson(2, 3), rollup.WilsonScore, 1e-9)

	perTier, err := s.GetActionStats(ctx, "u1", "coding", "search_docs", "working")
	require.NoError(t, err)
	assert.EqualValues(t, 2, perTier.Uses)
}

func TestSQLiteStore_PartialAndUnknownDoNotMoveScore(t *testing.T) {
	s := newKgStore(t)
	ctx := context.Background()

	d := &ActionDelta{
		UserID: "u1", ContextType: "coding", Action: "lookup",
		Tier: "working", Uses: 4, Partial: 2, Unknown: 2, SeenAt: time.Now(),
	}
	require.NoError(t, s.ApplyActionDeltas(ctx, []*ActionDelta{d}))

	a, err := s.GetActionStats(ctx, "u1", "coding", "lookup", "working")
	require.NoError(t, err)
	assert.EqualValues(t, 4, a.Uses)
	assert.InDelta(t, 0.5, a.SuccessRate, 1e-9, "no worked/failed evidence keeps the neutral default")
	assert.InDelta(t, 0.5, a.WilsonScore, 1e-9)
}

func TestSQLiteStore_Counts(t *testing.T) {
	s := newKgStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyNodeDeltas(ctx, []*NodeDelta{
		{UserID: "u1", NodeID: "n1", Mentions: 1, SeenAt: time.Now()},
		{UserID: "u1", NodeID: "n2", Mentions: 1, SeenAt: time.Now()},
		{UserID: "u2", NodeID: "n1", Mentions: 1, SeenAt: time.Now()},
	}))
	require.NoError(t, s.ApplyEdgeDeltas(ctx, []*EdgeDelta{
		{UserID: "u1", EdgeID: "e1", Weight: 1, SeenAt: time.Now()},
	}))

	c, err := s.Counts(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.Nodes)
	assert.EqualValues(t, 1, c.Edges)

	_, err = s.GetNode(ctx, "u1", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
