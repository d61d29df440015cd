package kg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeltaStore applies coalesced deltas to the durable store.
//
// Implementations must express each application as an atomic transformation
// of the stored row (counters add onto stored counters, derived scores
// recomputed in the same operation) so that concurrent flushes from multiple
// processes remain correct without external locking.
type DeltaStore interface {
	ApplyNodeDeltas(ctx context.Context, deltas []*NodeDelta) error
	ApplyEdgeDeltas(ctx context.Context, deltas []*EdgeDelta) error
	ApplyActionDeltas(ctx context.Context, deltas []*ActionDelta) error
}

// Buffer coalesces high-frequency knowledge-graph writes in memory and
// flushes them periodically.
//
// Enqueue methods are synchronous and non-blocking: they merge the event
// into any pending delta for the same key (counts add, sets union, last-seen
// takes the max) under a short-lived lock, never touching the store.
//
// Flush is reentrant-safe. A flush requested while one is in progress sets a
// pending flag instead of starting a second flush; the in-progress flush
// loops on completion to drain anything enqueued during its own execution.
// No delta enqueued before a Flush call returns is ever silently dropped.
// Drained deltas are swapped out of the maps before any I/O begins, so new
// deltas land in fresh maps rather than racing the in-flight batch.
type Buffer struct {
	store  DeltaStore
	logger *zap.Logger

	// mu guards the delta maps.
	mu      sync.Mutex
	nodes   map[nodeKey]*NodeDelta
	edges   map[edgeKey]*EdgeDelta
	actions map[actionKey]*ActionDelta

	// flushMu guards the flush state machine.
	flushMu  sync.Mutex
	flushing bool
	pending  bool

	// scheduler state
	schedMu  sync.Mutex
	running  bool
	stopCh   chan struct{}
	interval time.Duration

	// storeTimeout bounds each store batch so a slow store cannot stall
	// the flush loop indefinitely.
	storeTimeout time.Duration
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithFlushInterval sets the periodic flush interval. Default 15s.
func WithFlushInterval(d time.Duration) BufferOption {
	return func(b *Buffer) { b.interval = d }
}

// WithStoreTimeout bounds each store batch. Default 30s.
func WithStoreTimeout(d time.Duration) BufferOption {
	return func(b *Buffer) { b.storeTimeout = d }
}

// NewBuffer creates a write-coalescing buffer over store.
func NewBuffer(store DeltaStore, logger *zap.Logger, opts ...BufferOption) (*Buffer, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	b := &Buffer{
		store:        store,
		logger:       logger,
		nodes:        make(map[nodeKey]*NodeDelta),
		edges:        make(map[edgeKey]*EdgeDelta),
		actions:      make(map[actionKey]*ActionDelta),
		interval:     15 * time.Second,
		storeTimeout: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// EnqueueNode merges an entity-mention delta into the buffer.
func (b *Buffer) EnqueueNode(d NodeDelta) error {
	if d.UserID == "" {
		return ErrEmptyUserID
	}
	if d.NodeID == "" {
		return ErrEmptyKey
	}
	if d.SeenAt.IsZero() {
		d.SeenAt = time.Now()
	}

	key := nodeKey{userID: d.UserID, nodeID: d.NodeID}
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.nodes[key]; ok {
		existing.merge(&d)
	} else {
		b.nodes[key] = &d
	}
	return nil
}

// EnqueueEdge merges a relation-observation delta into the buffer.
func (b *Buffer) EnqueueEdge(d EdgeDelta) error {
	if d.UserID == "" {
		return ErrEmptyUserID
	}
	if d.EdgeID == "" {
		return ErrEmptyKey
	}
	if d.SeenAt.IsZero() {
		d.SeenAt = time.Now()
	}

	key := edgeKey{userID: d.UserID, edgeID: d.EdgeID}
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.edges[key]; ok {
		existing.merge(&d)
	} else {
		b.edges[key] = &d
	}
	return nil
}

// EnqueueAction merges an action-outcome delta into the buffer.
func (b *Buffer) EnqueueAction(d ActionDelta) error {
	if d.UserID == "" {
		return ErrEmptyUserID
	}
	if d.Action == "" || d.ContextType == "" {
		return ErrEmptyKey
	}
	if d.SeenAt.IsZero() {
		d.SeenAt = time.Now()
	}

	key := actionKey{
		userID:      d.UserID,
		contextType: d.ContextType,
		action:      d.Action,
		tier:        d.Tier,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.actions[key]; ok {
		existing.merge(&d)
	} else {
		b.actions[key] = &d
	}
	return nil
}

// PendingCounts returns the number of buffered deltas per class.
func (b *Buffer) PendingCounts() (nodes, edges, actions int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes), len(b.edges), len(b.actions)
}

// Flush drains the buffered deltas into the store.
//
// If a flush is already in progress the call marks a pending follow-up pass
// and returns immediately; the active flush drains the follow-up before
// finishing. Batch failures for one entity class do not block the others;
// failed batches are logged and dropped (at-most-once).
func (b *Buffer) Flush(ctx context.Context) {
	b.flushMu.Lock()
	if b.flushing {
		b.pending = true
		b.flushMu.Unlock()
		return
	}
	b.flushing = true
	b.flushMu.Unlock()

	for {
		b.flushOnce(ctx)

		b.flushMu.Lock()
		if b.pending {
			b.pending = false
			b.flushMu.Unlock()
			continue
		}
		b.flushing = false
		b.flushMu.Unlock()
		return
	}
}

// flushOnce swaps the maps out under the lock, then applies each entity
// class outside it.
func (b *Buffer) flushOnce(ctx context.Context) {
	b.mu.Lock()
	nodes, edges, actions := b.nodes, b.edges, b.actions
	b.nodes = make(map[nodeKey]*NodeDelta)
	b.edges = make(map[edgeKey]*EdgeDelta)
	b.actions = make(map[actionKey]*ActionDelta)
	b.mu.Unlock()

	if len(nodes) == 0 && len(edges) == 0 && len(actions) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	defer cancel()

	if len(nodes) > 0 {
		batch := make([]*NodeDelta, 0, len(nodes))
		for _, d := range nodes {
			batch = append(batch, d)
		}
		if err := b.store.ApplyNodeDeltas(ctx, batch); err != nil {
			flushErrors.WithLabelValues("nodes").Inc()
			droppedDeltas.WithLabelValues("nodes").Add(float64(len(batch)))
			b.logger.Error("node delta batch failed, deltas dropped",
				zap.Int("count", len(batch)), zap.Error(err))
		} else {
			flushedDeltas.WithLabelValues("nodes").Add(float64(len(batch)))
		}
	}

	if len(edges) > 0 {
		batch := make([]*EdgeDelta, 0, len(edges))
		for _, d := range edges {
			batch = append(batch, d)
		}
		if err := b.store.ApplyEdgeDeltas(ctx, batch); err != nil {
			flushErrors.WithLabelValues("edges").Inc()
			droppedDeltas.WithLabelValues("edges").Add(float64(len(batch)))
			b.logger.Error("edge delta batch failed, deltas dropped",
				zap.Int("count", len(batch)), zap.Error(err))
		} else {
			flushedDeltas.WithLabelValues("edges").Add(float64(len(batch)))
		}
	}

	if len(actions) > 0 {
		batch := make([]*ActionDelta, 0, len(actions))
		for _, d := range actions {
			batch = append(batch, d)
		}
		if err := b.store.ApplyActionDeltas(ctx, batch); err != nil {
			flushErrors.WithLabelValues("actions").Inc()
			droppedDeltas.WithLabelValues("actions").Add(float64(len(batch)))
			b.logger.Error("action delta batch failed, deltas dropped",
				zap.Int("count", len(batch)), zap.Error(err))
		} else {
			flushedDeltas.WithLabelValues("actions").Add(float64(len(batch)))
		}
	}
}

// Start begins the periodic flush loop. Idempotent: starting a running
// buffer returns an error without spawning a second goroutine.
func (b *Buffer) Start() error {
	b.schedMu.Lock()
	defer b.schedMu.Unlock()

	if b.running {
		return fmt.Errorf("buffer flush loop is already running")
	}
	b.stopCh = make(chan struct{})
	b.running = true

	b.logger.Info("kg write buffer started", zap.Duration("interval", b.interval))
	go b.run()
	return nil
}

// Stop halts the flush loop and performs a final drain so nothing buffered
// at shutdown is lost to process exit.
func (b *Buffer) Stop() error {
	b.schedMu.Lock()
	defer b.schedMu.Unlock()

	if !b.running {
		return nil
	}
	b.running = false
	close(b.stopCh)

	b.Flush(context.Background())
	b.logger.Info("kg write buffer stopped")
	return nil
}

func (b *Buffer) run() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("kg buffer flush loop panicked",
				zap.Any("panic", r), zap.Stack("stack"))
			b.schedMu.Lock()
			b.running = false
			b.schedMu.Unlock()
		}
	}()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush(context.Background())
		case <-b.stopCh:
			return
		}
	}
}
