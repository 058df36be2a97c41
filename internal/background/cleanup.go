package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/stepgate/internal/metrics"
)

// ExpiredSweeper drops entries whose TTL has passed. Redis expires keys on
// its own; the in-memory store needs to be swept.
type ExpiredSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically removes expired entries from the shared store
type CleanupManager struct {
	store    ExpiredSweeper
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	store ExpiredSweeper,
	m *metrics.Metrics,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		store:    store,
		metrics:  m,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce sweeps the store a single time
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	start := time.Now()

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := cm.store.DeleteExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to sweep expired store entries", slog.Any("error", err))
		return
	}

	cm.metrics.ObserveCleanup(start, removed)

	if removed > 0 {
		cm.logger.Info("expired store entries removed", slog.Int64("removed", removed))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
