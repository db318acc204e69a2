package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper drives spec.md §4.7's two diagnostic-request background tasks on
// independent tickers: expiring stale pending requests, and deleting old
// terminal ones. Grounded on the same Start/Stop ticker shape as
// internal/workorder.Sweeper.
type Sweeper struct {
	manager        *Manager
	expireInterval time.Duration
	cleanupEvery   time.Duration
	cleanupMaxAge  time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a Sweeper. cleanupMaxAge is how old a terminal request
// must be before cleanup deletes it.
func NewSweeper(m *Manager, expireInterval, cleanupEvery, cleanupMaxAge time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if expireInterval <= 0 {
		expireInterval = 30 * time.Second
	}
	if cleanupEvery <= 0 {
		cleanupEvery = time.Hour
	}
	if cleanupMaxAge <= 0 {
		cleanupMaxAge = 7 * 24 * time.Hour
	}
	return &Sweeper{
		manager:        m,
		expireInterval: expireInterval,
		cleanupEvery:   cleanupEvery,
		cleanupMaxAge:  cleanupMaxAge,
		logger:         logger,
	}
}

// Start runs both ticker loops in the background.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runExpireLoop(loopCtx)
	go s.runCleanupLoop(loopCtx)
}

// Stop halts both loops and waits for any in-flight sweep to finish.
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

func (s *Sweeper) runExpireLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.expireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.manager.store.ExpireDiagnosticRequests(ctx)
			if err != nil {
				s.logger.Warn("expire diagnostic requests failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expired stale diagnostic requests", zap.Int64("count", n))
			}
		}
	}
}

func (s *Sweeper) runCleanupLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.manager.store.CleanupDiagnosticRequests(ctx, s.cleanupMaxAge)
			if err != nil {
				s.logger.Warn("cleanup diagnostic requests failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("deleted old terminal diagnostic requests", zap.Int64("count", n))
			}
		}
	}
}
