package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nfcunha/vpsmanager/utils/metrics"

	"golang.org/x/sync/errgroup"
)

// Refresher repopulates one cached resource list from its source.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// SyncTarget names a refresher for logging.
type SyncTarget struct {
	Name      string
	Refresher Refresher
}

// SyncStatus reports whether the loop is scheduled and whether a pass is in flight.
type SyncStatus struct {
	Running   bool `json:"running"`
	IsRunning bool `json:"isRunning"`
}

// BackgroundSync periodically refreshes every cached resource list.
type BackgroundSync struct {
	targets  []SyncTarget
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	inFlight atomic.Bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBackgroundSync creates a new sync loop. interval <= 0 means 60s.
func NewBackgroundSync(targets []SyncTarget, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *BackgroundSync {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundSync{
		targets:  targets,
		interval: interval,
		metrics:  m,
		logger:   logger.With("component", "background_sync"),
	}
}

// Start runs one pass immediately and then one per interval. Calling Start
// while already running is a no-op.
func (s *BackgroundSync) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.logger.Warn("background sync already running")
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.run(s.ctx)

	s.logger.Info("background sync started", "interval", s.interval)
}

// Stop cancels the loop and waits for an in-flight pass to finish. Calling
// Stop when not running is a no-op.
func (s *BackgroundSync) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("background sync stopped")
}

// Status reports the loop state.
func (s *BackgroundSync) Status() SyncStatus {
	s.mu.Lock()
	running := s.cancel != nil
	s.mu.Unlock()

	return SyncStatus{Running: running, IsRunning: s.inFlight.Load()}
}

func (s *BackgroundSync) run(ctx context.Context) {
	defer s.wg.Done()

	s.SyncAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncAll(ctx)
		}
	}
}

// SyncAll refreshes every target concurrently. If a pass is already in
// flight the call returns false without doing anything; passes are skipped,
// never queued. A failing target is logged and does not affect the others.
func (s *BackgroundSync) SyncAll(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("sync already in progress, skipping")
		return false
	}
	defer s.inFlight.Store(false)

	start := time.Now()
	var g errgroup.Group
	for _, target := range s.targets {
		g.Go(func() error {
			if err := target.Refresher.Refresh(ctx); err != nil {
				s.logger.Error("failed to sync", "target", target.Name, "error", err)
				return nil
			}
			s.logger.Debug("synced", "target", target.Name)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	s.metrics.ObserveSync(elapsed.Seconds())
	s.logger.Info("full sync completed", "duration", elapsed)
	return true
}
