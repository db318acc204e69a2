// Package httpapi assembles spec.md §6's external HTTP surface: a stdlib
// net/http.ServeMux wrapped in internal/authpak's PAK middleware, with
// handlers that borrow every already-built manager, sweeper, and worker
// rather than re-implementing their logic. Grounded on the teacher's
// internal/controlplane/server package (Server struct owning subsystem
// fields, New/Run/Close lifecycle, mux.HandleFunc route registration,
// graceful-shutdown-with-timeout Run loop); the route table itself is
// Brokkr's own domain, not the teacher's fleet/hub/approval surface.
package httpapi

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/audit"
	"github.com/brokkr-io/brokkr/internal/authpak"
	"github.com/brokkr-io/brokkr/internal/config"
	"github.com/brokkr-io/brokkr/internal/deployobj"
	"github.com/brokkr-io/brokkr/internal/eventbus"
	"github.com/brokkr-io/brokkr/internal/health"
	"github.com/brokkr-io/brokkr/internal/metrics"
	"github.com/brokkr-io/brokkr/internal/store"
	"github.com/brokkr-io/brokkr/internal/webhook"
	"github.com/brokkr-io/brokkr/internal/workorder"
)

// agentUnreachableCutoff is how long an ACTIVE agent may go without a
// heartbeat before the liveness sweep marks it UNREACHABLE (spec.md §4.6).
const agentUnreachableCutoff = 90 * time.Second

// Server wires the store and every domain package into one HTTP surface.
type Server struct {
	cfgMu   sync.RWMutex
	cfg     config.Broker
	cfgPath string
	store   *store.Store
	logger  *zap.Logger

	resolver *authpak.Resolver
	stream   *eventbus.LiveStream
	events   *eventbus.Emitter
	auditLog *audit.Logger

	woMgr         *workorder.Manager
	woSweeper     *workorder.Sweeper
	doMgr         *deployobj.Manager
	healthMgr     *health.Manager
	healthSweeper *health.Sweeper
	webhookCipher *webhook.Cipher
	webhookWorker *webhook.Worker
	metrics       *metrics.Collector
	pollLimiter   *pollRateLimiter

	cron       *cron.Cron
	httpServer *http.Server
}

// New assembles a Server against st, ready to Run. cfg.EncryptionKey must
// decode to exactly 32 bytes (chacha20poly1305.KeySize) — SPEC_FULL.md §5.3's
// resolution of webhook-secret-at-rest. cfgPath is the file New(cfg) was
// itself loaded from, if any; POST /admin/config/reload re-reads it.
func New(cfg config.Broker, cfgPath string, st *store.Store, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key, err := hex.DecodeString(cfg.EncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("httpapi: encryption_key must be 32 bytes hex-encoded (got %d decoded bytes, err=%v)", len(key), err)
	}
	cipher, err := webhook.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("httpapi: build webhook cipher: %w", err)
	}

	stream := eventbus.NewLiveStream(0)
	events := eventbus.NewEmitter(st, stream)
	auditLog := audit.NewLogger(st)

	s := &Server{
		cfg:      cfg,
		cfgPath:  cfgPath,
		store:    st,
		logger:   logger,
		resolver: authpak.NewResolver(st),
		stream:   stream,
		events:   events,
		auditLog: auditLog,

		woMgr:         workorder.NewManager(st, events, auditLog, workorder.WithLogger(logger)),
		doMgr:         deployobj.NewManager(st, events, auditLog, logger),
		healthMgr:     health.NewManager(st),
		webhookCipher: cipher,
		metrics:       metrics.NewCollector(),
		pollLimiter:   newPollRateLimiter(cfg.AgentPollRate),
		cron:          cron.New(),
	}
	s.woSweeper = workorder.NewSweeper(s.woMgr, 15*time.Second, logger)
	s.healthSweeper = health.NewSweeper(s.healthMgr, 30*time.Second, time.Hour, 7*24*time.Hour, logger)
	s.webhookWorker = webhook.NewWorker(st, cipher, 5*time.Second, 20, logger)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	skipPaths := []string{"/healthz", "/readyz", "/metrics", apiV1 + "/auth/pak"}
	var handler http.Handler = mux
	handler = authpak.Middleware(s.resolver, skipPaths)(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if _, err := s.cron.AddFunc("@every 20s", s.sweepAgentLiveness); err != nil {
		return nil, fmt.Errorf("httpapi: schedule agent-liveness sweep: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 1h", s.sweepWebhookDeliveryCleanup); err != nil {
		return nil, fmt.Errorf("httpapi: schedule webhook-delivery cleanup: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 15s", s.refreshMetrics); err != nil {
		return nil, fmt.Errorf("httpapi: schedule metrics refresh: %w", err)
	}

	return s, nil
}

// Run starts every background task and the HTTP listener, blocking until ctx
// is cancelled or the listener fails. On return, every background task has
// been stopped and the HTTP server shut down (gracefully, within 10s).
func (s *Server) Run(ctx context.Context) error {
	s.woSweeper.Start(ctx)
	defer s.woSweeper.Stop()
	s.healthSweeper.Start(ctx)
	defer s.healthSweeper.Stop()
	s.webhookWorker.Start(ctx)
	defer s.webhookWorker.Stop()

	s.cron.Start()
	defer s.cron.Stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("broker listening", zap.String("addr", s.cfg.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpapi: graceful shutdown: %w", err)
		}
		return nil
	}
}

// config returns a copy of the currently active configuration, safe to call
// concurrently with handleReloadConfig swapping it in.
func (s *Server) config() config.Broker {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func (s *Server) setConfig(cfg config.Broker) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}

// Close releases resources Server owns directly (the store is owned by the
// caller and is not closed here).
func (s *Server) Close() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Server) sweepAgentLiveness() {
	n, err := s.store.MarkUnreachable(context.Background(), time.Now().Add(-agentUnreachableCutoff))
	if err != nil {
		s.logger.Warn("agent liveness sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("marked agents unreachable", zap.Int64("count", n))
	}
}

func (s *Server) sweepWebhookDeliveryCleanup() {
	n, err := s.store.CleanupDeliveries(context.Background(), 7*24*time.Hour)
	if err != nil {
		s.logger.Warn("webhook delivery cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("cleaned up old webhook deliveries", zap.Int64("count", n))
	}
}

func (s *Server) refreshMetrics() {
	background := context.Background()
	agents, err := s.store.ListLiveAgents(background)
	if err == nil {
		counts := map[string]int{}
		for _, a := range agents {
			counts[a.Status]++
		}
		s.metrics.SetAgentStatusCounts(counts)
	}
	workOrders, err := s.store.ListWorkOrders(background)
	if err == nil {
		counts := map[string]int{}
		for _, wo := range workOrders {
			counts[wo.Status]++
		}
		s.metrics.SetWorkOrderStatusCounts(counts)
	}
}
