package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/clearbook/clearbook/internal/auth/revocation"
	"github.com/clearbook/clearbook/internal/auth/store"
)

// HousekeepingService periodically removes expired refresh tokens, sweeps the
// revocation registry, and prunes old activity entries so none of them grow
// without bound.
type HousekeepingService struct {
	Store             store.Store
	Revocations       revocation.Store
	Logger            *slog.Logger
	Interval          time.Duration
	ActivityRetention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval defaults to 1 hour, a non-positive retention to 90 days.
func NewHousekeepingService(st store.Store, rev revocation.Store, logger *slog.Logger, interval, activityRetention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if activityRetention <= 0 {
		activityRetention = 90 * 24 * time.Hour
	}

	return &HousekeepingService{
		Store:             st,
		Revocations:       rev,
		Logger:            logger,
		Interval:          interval,
		ActivityRetention: activityRetention,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop for graceful shutdown.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress sweep has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run once on startup
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep performs the deletions. Each is independent - a failure in one won't
// stop the others.
func (s *HousekeepingService) sweep() {
	ctx := context.Background()

	if err := s.Store.RefreshTokens().DeleteExpired(ctx); err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
	}

	if err := s.Revocations.Sweep(ctx); err != nil {
		s.Logger.Error("failed to sweep revocation store", "error", err)
	}

	cutoff := time.Now().Add(-s.ActivityRetention)
	if err := s.Store.ActivityLog().DeleteOlderThan(ctx, cutoff); err != nil {
		s.Logger.Error("failed to prune activity log", "error", err)
	}

	s.Logger.Debug("housekeeping sweep completed")
}
