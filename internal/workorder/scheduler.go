package workorder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically transitions due RETRY_PENDING work orders back to
// PENDING so agents' next poll picks them up again, per spec.md §4.4's
// background retry sweep. Grounded on the teacher's Scheduler.Start/Stop
// ticker-loop shape (internal/controlplane/jobs/scheduler.go), stripped of
// the per-job cron/dispatch machinery that has no counterpart in a
// pull-based agent model.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a Sweeper that sweeps at interval.
func NewSweeper(m *Manager, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{manager: m, interval: interval, logger: logger}
}

// Start runs the sweep loop in the background. Safe to call once; a second
// call is a no-op while the loop is already running.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.sweepOnce(loopCtx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.cancel = nil
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.manager.store.SweepRetryPending(ctx)
	if err != nil {
		s.logger.Warn("sweep retry-pending work orders failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("swept retry-pending work orders back to pending", zap.Int64("count", n))
	}
}
