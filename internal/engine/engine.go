// Package engine is the public surface of the learning loop, consumed by the
// response pipeline.
//
// Nothing here propagates an error into the caller's control flow: surfacing,
// outcome recording and knowledge-graph bookkeeping are best-effort
// enhancements to scoring, and a response must never block or fail because of
// them. Failures are logged, counted, and handed to an optional error sink.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/correlator"
	"github.com/fyrsmithlabs/recalld/internal/kg"
	"github.com/fyrsmithlabs/recalld/internal/lifecycle"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/outcome"
)

const (
	// defaultPromoteEvery is the message-count stride between on-demand
	// lifecycle runs for a user.
	defaultPromoteEvery = 10

	// taskTimeout bounds each background task so a slow store cannot pile
	// up goroutines behind it.
	taskTimeout = 10 * time.Second

	// surfaceContextType keys the per-tier effectiveness rows written when
	// a conversation outcome is attributed to surfaced memories.
	surfaceContextType = "conversation"
	surfaceAction      = "memory_surfaced"
)

// GraphReader exposes the knowledge-graph inspection reads used by Stats.
type GraphReader interface {
	Counts(ctx context.Context, userID string) (kg.GraphCounts, error)
}

// SurfacedResult is one ranked fragment returned by the retrieval subsystem.
type SurfacedResult struct {
	MemoryID string
	Tier     string
	Score    float64
	Preview  string
}

// EntityMention is one observed mention of an entity in a conversation.
type EntityMention struct {
	UserID   string
	NodeID   string // generated when empty
	Label    string
	NodeType string
	Quality  float64
	Aliases  []string
	MemoryID string // provenance, optional
}

// UserStats is the inspection read exposed to operational tooling.
type UserStats struct {
	UserID     string                `json:"user_id"`
	TierCounts map[memory.Tier]int64 `json:"tier_counts"`
	Graph      kg.GraphCounts        `json:"graph"`
}

// Engine wires the correlator, detector, write buffer, memory store and
// lifecycle manager behind the operations the response pipeline calls.
type Engine struct {
	memories   memory.Store
	graph      *kg.Buffer
	graphReads GraphReader
	correlator *correlator.Correlator
	lifecycle  *lifecycle.Manager
	log        *zap.Logger

	promoteEvery int64
	errSink      func(error)

	countMu   sync.Mutex
	msgCounts map[string]int64

	wg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithPromoteEvery sets the message-count stride for on-demand lifecycle
// runs. Zero disables the trigger.
func WithPromoteEvery(n int64) Option {
	return func(e *Engine) { e.promoteEvery = n }
}

// WithErrorSink installs a callback receiving background-task failures, in
// addition to logging. Used by tests and by operational alerting.
func WithErrorSink(sink func(error)) Option {
	return func(e *Engine) { e.errSink = sink }
}

// New creates an Engine over the given components.
func New(
	memories memory.Store,
	graph *kg.Buffer,
	graphReads GraphReader,
	corr *correlator.Correlator,
	lc *lifecycle.Manager,
	logger *zap.Logger,
	opts ...Option,
) (*Engine, error) {
	if memories == nil {
		return nil, fmt.Errorf("memory store cannot be nil")
	}
	if graph == nil {
		return nil, fmt.Errorf("kg buffer cannot be nil")
	}
	if corr == nil {
		return nil, fmt.Errorf("correlator cannot be nil")
	}
	if lc == nil {
		return nil, fmt.Errorf("lifecycle manager cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	e := &Engine{
		memories:     memories,
		graph:        graph,
		graphReads:   graphReads,
		correlator:   corr,
		lifecycle:    lc,
		log:          logger,
		promoteEvery: defaultPromoteEvery,
		msgCounts:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SurfaceMemories records which fragments were shown for a turn so a later
// outcome can be attributed back to them. Fire-and-forget: the write runs in
// the background and its failure never reaches the caller.
func (e *Engine) SurfaceMemories(conversationID, userID string, results []SurfacedResult, responsePreview string) {
	if conversationID == "" || len(results) == 0 {
		return
	}

	memories := make(map[string]correlator.SurfacedMemory, len(results))
	for i, r := range results {
		memories[r.MemoryID] = correlator.SurfacedMemory{
			Position: i + 1,
			Tier:     r.Tier,
			Score:    r.Score,
			Preview:  r.Preview,
		}
	}
	rec := &correlator.Record{
		ConversationID:  conversationID,
		UserID:          userID,
		Memories:        memories,
		ResponsePreview: responsePreview,
	}

	surfacedTotal.Add(float64(len(results)))
	e.spawn("surface_memories", func(ctx context.Context) error {
		e.correlator.Remember(ctx, rec)
		return nil
	})
}

// RecordOutcome applies an outcome to the given memory records' usage
// statistics. Failures degrade; they are never returned.
func (e *Engine) RecordOutcome(ctx context.Context, userID string, o outcome.Outcome, memoryIDs []string) {
	if len(memoryIDs) == 0 {
		return
	}
	delta, err := memory.DeltaForOutcome(o)
	if err != nil {
		e.fail(fmt.Errorf("record outcome for %s: %w", userID, err))
		return
	}
	if err := e.memories.RecordOutcome(ctx, userID, memoryIDs, delta); err != nil {
		e.fail(fmt.Errorf("record outcome for %s: %w", userID, err))
		return
	}
	outcomesTotal.WithLabelValues(string(o)).Add(float64(len(memoryIDs)))
}

// RecordConversationOutcome classifies the latest exchange and attributes the
// result to the memories surfaced for the conversation.
//
// A valid explicit outcome overrides the detector. An unknown classification
// leaves the surfaced set in place for a later, clearer turn; the correlator's
// TTL bounds how long it can wait.
func (e *Engine) RecordConversationOutcome(ctx context.Context, conversationID, userID string, turns []outcome.Turn, explicit outcome.Outcome) outcome.Detection {
	var det outcome.Detection
	if explicit != "" && explicit.Valid() {
		det = outcome.Detection{
			Outcome:    explicit,
			Confidence: 1.0,
			Reason:     "explicit user feedback",
		}
	} else {
		det = outcome.Detect(turns)
	}

	if det.Outcome == outcome.OutcomeUnknown {
		return det
	}

	rec := e.correlator.Lookup(ctx, conversationID)
	if rec == nil {
		return det
	}

	e.RecordOutcome(ctx, userID, det.Outcome, rec.MemoryIDs())

	// Per-tier effectiveness of surfacing itself, learned alongside the
	// per-record statistics.
	for _, sm := range rec.Memories {
		e.enqueueAction(kg.ActionDelta{
			UserID:      userID,
			ContextType: surfaceContextType,
			Action:      surfaceAction,
			Tier:        sm.Tier,
		}, det.Outcome, 0)
	}

	e.correlator.Clear(ctx, conversationID)
	return det
}

// RecordActionOutcome records the result of a tool or action invocation into
// the per-(context, action, tier) effectiveness statistics.
func (e *Engine) RecordActionOutcome(userID, contextType, action, tier string, o outcome.Outcome, latencyMs int64) {
	e.enqueueAction(kg.ActionDelta{
		UserID:      userID,
		ContextType: contextType,
		Action:      action,
		Tier:        tier,
	}, o, latencyMs)
}

func (e *Engine) enqueueAction(d kg.ActionDelta, o outcome.Outcome, latencyMs int64) {
	d.Uses = 1
	d.LatencyMsSum = latencyMs
	switch o {
	case outcome.OutcomeWorked:
		d.Worked = 1
	case outcome.OutcomeFailed:
		d.Failed = 1
	case outcome.OutcomePartial:
		d.Partial = 1
	default:
		d.Unknown = 1
	}
	if err := e.graph.EnqueueAction(d); err != nil {
		e.fail(fmt.Errorf("enqueue action %s/%s: %w", d.ContextType, d.Action, err))
	}
}

// RecordEntityMention buffers one entity mention. A missing node id is
// generated, and returned so the caller can link subsequent relations.
func (e *Engine) RecordEntityMention(m EntityMention) string {
	if m.NodeID == "" {
		m.NodeID = uuid.NewString()
	}

	d := kg.NodeDelta{
		UserID:     m.UserID,
		NodeID:     m.NodeID,
		Label:      m.Label,
		NodeType:   m.NodeType,
		Mentions:   1,
		QualitySum: m.Quality,
	}
	if len(m.Aliases) > 0 {
		d.Aliases = make(map[string]struct{}, len(m.Aliases))
		for _, a := range m.Aliases {
			d.Aliases[a] = struct{}{}
		}
	}
	if m.MemoryID != "" {
		d.MemoryIDs = map[string]struct{}{m.MemoryID: {}}
	}

	if err := e.graph.EnqueueNode(d); err != nil {
		e.fail(fmt.Errorf("enqueue entity mention %s: %w", m.NodeID, err))
	}
	return m.NodeID
}

// RecordRelation buffers one relation observation between two entities. The
// edge id is derived from the triple, so repeated observations accumulate
// weight on one edge.
func (e *Engine) RecordRelation(userID, sourceID, targetID, relationType string) {
	edgeID := sourceID + "|" + relationType + "|" + targetID
	err := e.graph.EnqueueEdge(kg.EdgeDelta{
		UserID:       userID,
		EdgeID:       edgeID,
		SourceID:     sourceID,
		TargetID:     targetID,
		RelationType: relationType,
		Weight:       1,
	})
	if err != nil {
		e.fail(fmt.Errorf("enqueue relation %s: %w", edgeID, err))
	}
}

// IncrementMessageCount bumps the user's message counter and, every
// promoteEvery messages, triggers an on-demand lifecycle run for that user in
// the background. Returns the new count.
func (e *Engine) IncrementMessageCount(userID string) int64 {
	e.countMu.Lock()
	e.msgCounts[userID]++
	count := e.msgCounts[userID]
	e.countMu.Unlock()

	if e.promoteEvery > 0 && count%e.promoteEvery == 0 {
		e.triggerLifecycle(userID)
	}
	return count
}

// OnConversationSwitch triggers a background lifecycle run for the user, so a
// session that just ended gets its memories judged promptly.
func (e *Engine) OnConversationSwitch(userID string) {
	e.triggerLifecycle(userID)
}

func (e *Engine) triggerLifecycle(userID string) {
	e.spawn("lifecycle_trigger", func(ctx context.Context) error {
		_, err := e.lifecycle.RunForUser(ctx, userID)
		return err
	})
}

// AddMemory ingests a new working-tier record and returns its generated id.
// Ingestion is an operational path, not the response path, so it reports
// failures to the caller.
func (e *Engine) AddMemory(ctx context.Context, userID, content string, tags []string) (string, error) {
	id := uuid.NewString()
	rec := &memory.Record{
		MemoryID: id,
		UserID:   userID,
		Tier:     memory.TierWorking,
		Status:   memory.StatusActive,
		Content:  content,
		Tags:     tags,
		Stats: memory.Stats{
			SuccessRate: 0.5,
			WilsonScore: 0.5,
		},
	}
	if err := e.memories.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("add memory for %s: %w", userID, err)
	}
	return id, nil
}

// Stats returns tier counts and knowledge-graph counts for a user.
func (e *Engine) Stats(ctx context.Context, userID string) (*UserStats, error) {
	tiers, err := e.memories.TierCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("tier counts for %s: %w", userID, err)
	}
	stats := &UserStats{UserID: userID, TierCounts: tiers}

	if e.graphReads != nil {
		counts, err := e.graphReads.Counts(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("graph counts for %s: %w", userID, err)
		}
		stats.Graph = counts
	}
	return stats, nil
}

// Wait blocks until all background tasks have finished. Called on shutdown
// after the schedulers stop.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// spawn runs fn as a background task with a bounded deadline. Panics and
// errors are captured by the sink, never propagated.
func (e *Engine) spawn(name string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				taskFailures.Inc()
				e.log.Error("background task panicked",
					zap.String("task", name), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			e.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (e *Engine) fail(err error) {
	taskFailures.Inc()
	e.log.Warn("engine operation degraded", zap.Error(err))
	if e.errSink != nil {
		e.errSink(err)
	}
}
