package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs lifecycle cycles in the background at a fixed interval.
//
// All public methods are thread-safe; the running state is mutex-protected
// so Start/Stop can race without leaking goroutines.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	manager  *Manager
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the time between cycles. Defaults to 1 hour.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithCycleTimeout bounds a single cycle. Defaults to 10 minutes.
func WithCycleTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewScheduler creates a scheduler. It does not start automatically; call
// Start to begin scheduled cycles.
func NewScheduler(manager *Manager, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	s := &Scheduler{
		interval: time.Hour,
		timeout:  10 * time.Minute,
		manager:  manager,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background loop. An eager cycle runs immediately so a
// freshly restarted process catches up on transitions missed while down.
// Returns an error if already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("lifecycle scheduler started", zap.Duration("interval", s.interval))
	go s.run(s.stopCh)
	return nil
}

// Stop signals the background loop to exit. Idempotent.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.logger.Info("stopping lifecycle scheduler")
	s.running = false
	close(s.stopCh)
	return nil
}

func (s *Scheduler) run(stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler goroutine panicked",
				zap.Any("panic", r), zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.safeCycle()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeCycle()
		case <-stopCh:
			return
		}
	}
}

// safeCycle wraps one cycle with panic recovery so a bad batch cannot take
// the scheduler down with it.
func (s *Scheduler) safeCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("lifecycle cycle panicked, scheduler continues",
				zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.manager.Cycle(ctx); err != nil {
		s.logger.Error("scheduled lifecycle cycle failed", zap.Error(err))
	}
}
