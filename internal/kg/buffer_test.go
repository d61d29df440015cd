package kg

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// captureStore records every applied delta and can block mid-batch to
// exercise the reentrancy path.
type captureStore struct {
	mu      sync.Mutex
	nodes   []*NodeDelta
	edges   []*EdgeDelta
	actions []*ActionDelta

	// blockNodes, when non-nil, is received from inside ApplyNodeDeltas
	// before the batch is recorded.
	blockNodes chan struct{}

	// entered is signalled when ApplyNodeDeltas begins.
	entered chan struct{}
}

func (c *captureStore) ApplyNodeDeltas(ctx context.Context, deltas []*NodeDelta) error {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.blockNodes != nil {
		<-c.blockNodes
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append(c.nodes, deltas...)
	return nil
}

func (c *captureStore) ApplyEdgeDeltas(ctx context.Context, deltas []*EdgeDelta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edges = append(c.edges, deltas...)
	return nil
}

func (c *captureStore) ApplyActionDeltas(ctx context.Context, deltas []*ActionDelta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, deltas...)
	return nil
}

func (c *captureStore) nodeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

func newTestBuffer(t *testing.T, store DeltaStore) *Buffer {
	t.Helper()
	b, err := NewBuffer(store, zap.NewNop())
	require.NoError(t, err)
	return b
}

func nodeMention(userID, nodeID string, aliases ...string) NodeDelta {
	d := NodeDelta{
		UserID:   userID,
		NodeID:   nodeID,
		Label:    nodeID,
		Mentions: 1,
		SeenAt:   time.Now(),
	}
	if len(aliases) > 0 {
		d.Aliases = make(map[string]struct{}, len(aliases))
		for _, a := range aliases {
			d.Aliases[a] = struct{}{}
		}
	}
	return d
}

func TestBuffer_CoalescesSameKey(t *testing.T) {
	store := &captureStore{}
	b := newTestBuffer(t, store)

	require.NoError(t, b.EnqueueNode(nodeMention("u1", "n1", "gopher")))
	require.NoError(t, b.EnqueueNode(nodeMention("u1", "n1", "go gopher")))

	nodes, _, _ := b.PendingCounts()
	assert.Equal(t, 1, nodes, "same key must merge, not append")

	b.Flush(context.Background())

	require.Len(t, store.nodes, 1)
	got := store.nodes[0]
	assert.EqualValues(t, 2, got.Mentions)
	assert.Len(t, got.Aliases, 2)
}

func TestBuffer_DistinctKeysStaySeparate(t *testing.T) {
	store := &captureStore{}
	b := newTestBuffer(t, store)

	require.NoError(t, b.EnqueueNode(nodeMention("u1", "n1")))
	require.NoError(t, b.EnqueueNode(nodeMention("u2", "n1")))
	require.NoError(t, b.EnqueueNode(nodeMention("u1", "n2")))

	nodes, _, _ := b.PendingCounts()
	assert.Equal(t, 3, nodes)
}

func TestBuffer_EdgeAndActionMerge(t *testing.T) {
	store := &captureStore{}
	b := newTestBuffer(t, store)

	edge := EdgeDelta{
		UserID: "u1", EdgeID: "e1",
		SourceID: "n1", TargetID: "n2", RelationType: "works_at",
		Weight: 1, SeenAt: time.Now(),
	}
	require.NoError(t, b.EnqueueEdge(edge))
	require.NoError(t, b.EnqueueEdge(edge))

	act := ActionDelta{
		UserID: "u1", ContextType: "coding", Action: "search_docs",
		Tier: "working", Uses: 1, Worked: 1, LatencyMsSum: 120,
		SeenAt: time.Now(),
	}
	require.NoError(t, b.EnqueueAction(act))
	require.NoError(t, b.EnqueueAction(act))

	b.Flush(context.Background())

	require.Len(t, store.edges, 1)
	assert.EqualValues(t, 2, store.edges[0].Weight)

	require.Len(t, store.actions, 1)
	assert.EqualValues(t, 2, store.actions[0].Uses)
	assert.EqualValues(t, 2, store.actions[0].Worked)
	assert.EqualValues(t, 240, store.actions[0].LatencyMsSum)
}

func TestBuffer_EnqueueValidation(t *testing.T) {
	b := newTestBuffer(t, &captureStore{})

	assert.ErrorIs(t, b.EnqueueNode(NodeDelta{NodeID: "n1"}), ErrEmptyUserID)
	assert.ErrorIs(t, b.EnqueueNode(NodeDelta{UserID: "u1"}), ErrEmptyKey)
	assert.ErrorIs(t, b.EnqueueEdge(EdgeDelta{UserID: "u1"}), ErrEmptyKey)
	assert.ErrorIs(t, b.EnqueueAction(ActionDelta{UserID: "u1", Action: "a"}), ErrEmptyKey)
}

func TestBuffer_FlushDrainsMaps(t *testing.T) {
	store := &captureStore{}
	b := newTestBuffer(t, store)

	require.NoError(t, b.EnqueueNode(nodeMention("u1", "n1")))
	b.Flush(context.Background())

	nodes, edges, actions := b.PendingCounts()
	assert.Zero(t, nodes)
	assert.Zero(t, edges)
	assert.Zero(t, actions)

	// A second flush with nothing pending must not touch the store again.
	before := store.nodeCount()
	b.Flush(context.Background())
	assert.Equal(t, before, store.nodeCount())
}

func TestBuffer_ReentrantFlushIsNotLost(t *testing.T) {
	store := &captureStore{
		blockNodes: make(chan struct{}),
		entered:    make(chan struct{}, 2),
	}
	b := newTestBuffer(t, store)

	require.NoError(t, b.EnqueueNode(nodeMention("u1", "n1")))

	done := make(chan struct{})
	go func() {
		b.Flush(context.Background())
		close(done)
	}()

	// Wait until the first flush is inside the store call.
	<-store.entered

	// Enqueue during the in-progress flush and request another flush.
	// The request must return immediately, marking a pending pass.
	require.NoError(t, b.EnqueueNode(nodeMention("u1", "n2")))
	b.Flush(context.Background())

	// Unblock both passes.
	store.blockNodes <- struct{}{}
	<-store.entered
	store.blockNodes <- struct{}{}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("flush did not complete")
	}

	assert.Equal(t, 2, store.nodeCount(), "delta enqueued mid-flush must be drained by the follow-up pass")
}

func TestBuffer_StartStop(t *testing.T) {
	store := &captureStore{}
	b, err := NewBuffer(store, zap.NewNop(), WithFlushInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, b.Start())
	assert.Error(t, b.Start(), "second start must fail")

	require.NoError(t, b.EnqueueNode(nodeMention("u1", "n1")))

	assert.Eventually(t, func() bool {
		return store.nodeCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop(), "stop is idempotent")
}

func TestBuffer_StopDrainsRemaining(t *testing.T) {
	store := &captureStore{}
	b, err := NewBuffer(store, zap.NewNop(), WithFlushInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, b.Start())
	require.NoError(t, b.EnqueueNode(nodeMention("u1", "n1")))
	require.NoError(t, b.Stop())

	assert.Equal(t, 1, store.nodeCount())
}
