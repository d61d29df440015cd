package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/correlator"
	"github.com/fyrsmithlabs/recalld/internal/engine"
	"github.com/fyrsmithlabs/recalld/internal/kg"
	"github.com/fyrsmithlabs/recalld/internal/lifecycle"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/sqlitedb"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// components holds everything a command needs, plus the shutdown order.
type components struct {
	cfg    *config.Config
	logger *zap.Logger

	memories  *memory.SQLiteStore
	graph     *kg.SQLiteStore
	buffer    *kg.Buffer
	manager   *lifecycle.Manager
	scheduler *lifecycle.Scheduler
	engine    *engine.Engine

	closers []func() error
}

// build wires the full component graph from configuration.
func build(ctx context.Context) (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	c := &components{cfg: cfg, logger: logger}

	db, err := sqlitedb.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.Store.Path, err)
	}
	c.closers = append(c.closers, db.Close)

	c.memories, err = memory.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	c.graph, err = kg.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}

	c.buffer, err = kg.NewBuffer(c.graph, logger.Named("kg"),
		kg.WithFlushInterval(cfg.Buffer.FlushInterval),
		kg.WithStoreTimeout(cfg.Buffer.StoreTimeout))
	if err != nil {
		return nil, err
	}

	var index vectorindex.Index
	if cfg.Qdrant.Enabled {
		qdrantIndex, err := vectorindex.NewQdrantIndex(ctx, vectorindex.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
		})
		if err != nil {
			return nil, fmt.Errorf("connect qdrant mirror: %w", err)
		}
		c.closers = append(c.closers, qdrantIndex.Close)
		index = qdrantIndex
	}

	var corrStore correlator.Store
	switch cfg.Correlator.Backend {
	case "redis":
		corrStore, err = correlator.NewRedisStore(ctx, cfg.Correlator.RedisAddr, cfg.Correlator.TTL)
	default:
		corrStore, err = correlator.NewRistrettoStore(cfg.Correlator.TTL)
	}
	if err != nil {
		return nil, fmt.Errorf("create correlator store: %w", err)
	}
	c.closers = append(c.closers, corrStore.Close)

	c.manager = lifecycle.NewManager(c.memories, index, logger.Named("lifecycle"),
		lifecycle.WithBatchSize(cfg.Lifecycle.BatchSize))

	c.scheduler, err = lifecycle.NewScheduler(c.manager, logger.Named("lifecycle"),
		lifecycle.WithInterval(cfg.Lifecycle.Interval),
		lifecycle.WithCycleTimeout(cfg.Lifecycle.CycleTimeout))
	if err != nil {
		return nil, err
	}

	c.engine, err = engine.New(c.memories, c.buffer, c.graph,
		correlator.New(corrStore, logger.Named("correlator"),
			correlator.WithTTL(cfg.Correlator.TTL)),
		c.manager, logger.Named("engine"),
		engine.WithPromoteEvery(cfg.Lifecycle.PromoteEvery))
	if err != nil {
		return nil, err
	}

	return c, nil
}

// close releases resources in reverse acquisition order.
func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Warn("shutdown close failed", zap.Error(err))
		}
	}
	_ = c.logger.Sync()
}
