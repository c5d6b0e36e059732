// Package scheduler runs discovery cycles on a fixed interval and on demand.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/internal/discovery"
)

// DefaultInterval is the time between background cycles.
const DefaultInterval = 30 * time.Second

// ErrCycleInProgress is returned by Trigger while another cycle runs.
var ErrCycleInProgress = errors.New("discovery cycle already in progress")

// Cycler runs one discovery cycle.
type Cycler interface {
	RunDiscoveryCycle(ctx context.Context) discovery.CycleResult
}

// Scheduler serializes background and manual discovery cycles. At most one
// cycle runs at a time.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	logger   *zap.Logger

	running sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	last   discovery.CycleResult
}

// New creates a scheduler. A non-positive interval uses DefaultInterval.
func New(cycler Cycler, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		cycler:   cycler,
		interval: interval,
		logger:   logger,
	}
}

// Run performs a cycle immediately, then one per interval, and blocks until
// ctx is cancelled or Stop is called. A tick that lands while a manual
// cycle is running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.logger.Info("scheduler starting", zap.Duration("interval", s.interval))

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals Run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Trigger runs a cycle now and returns its result, or ErrCycleInProgress if
// a cycle is already running.
func (s *Scheduler) Trigger(ctx context.Context) (discovery.CycleResult, error) {
	if !s.running.TryLock() {
		return discovery.CycleResult{}, ErrCycleInProgress
	}
	defer s.running.Unlock()
	return s.run(ctx), nil
}

// Busy reports whether a cycle is running.
func (s *Scheduler) Busy() bool {
	if s.running.TryLock() {
		s.running.Unlock()
		return false
	}
	return true
}

// Last returns the result of the most recent completed cycle.
func (s *Scheduler) Last() discovery.CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Debug("skipping scheduled cycle, another is running")
		return
	}
	defer s.running.Unlock()
	s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) discovery.CycleResult {
	res := s.cycler.RunDiscoveryCycle(ctx)
	if !res.Success && ctx.Err() != nil {
		s.logger.Info("discovery cycle interrupted", zap.String("error", res.Error))
	} else if !res.Success {
		s.logger.Warn("discovery cycle failed", zap.String("error", res.Error))
	}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	return res
}
