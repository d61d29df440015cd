package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lifecycle scheduler and write buffer until interrupted",
	Long: `Run the background loops: the lifecycle scheduler (with an eager cycle at
startup), the knowledge-graph flush loop, and, when configured, the
Prometheus /metrics endpoint.

Examples:
  recalld serve
  recalld serve --config /etc/recalld/config.yaml
  RECALLD_METRICS_ADDR=:9091 recalld serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.buffer.Start(); err != nil {
		return err
	}
	if err := c.scheduler.Start(); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if addr := c.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			c.logger.Info("metrics endpoint listening", zap.String("addr", addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	c.logger.Info("shutting down", zap.String("signal", sig.String()))

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	// Scheduler first so no new cycles start, then the buffer's final
	// drain, then any in-flight engine tasks.
	if err := c.scheduler.Stop(); err != nil {
		c.logger.Warn("scheduler stop failed", zap.Error(err))
	}
	if err := c.buffer.Stop(); err != nil {
		c.logger.Warn("buffer stop failed", zap.Error(err))
	}
	c.engine.Wait()
	return nil
}
