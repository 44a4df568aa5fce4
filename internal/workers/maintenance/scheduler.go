package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/internal/infrastructure/cache"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
)

// Scheduler runs the periodic housekeeping jobs: reloading the IP
// blocklist snapshot and escalating suspicious activity records nobody
// has looked at.
type Scheduler struct {
	cron       *cron.Cron
	blocklist  *cache.Blocklist
	activities repositories.SuspiciousActivityRepository
	cfg        config.MaintenanceConfig
	logger     *zap.Logger
}

// NewScheduler creates the maintenance scheduler.
func NewScheduler(
	blocklist *cache.Blocklist,
	activities repositories.SuspiciousActivityRepository,
	cfg config.MaintenanceConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		blocklist:  blocklist,
		activities: activities,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.BlocklistReloadCron, s.reloadBlocklist); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.ActivitySweepCron, s.escalateStaleActivities); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("maintenance scheduler started",
		zap.String("blocklist_reload", s.cfg.BlocklistReloadCron),
		zap.String("activity_sweep", s.cfg.ActivitySweepCron),
	)
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) reloadBlocklist() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.blocklist.Reload(ctx); err != nil {
		// Keep serving the previous snapshot.
		s.logger.Error("blocklist reload failed", zap.Error(err))
	}
}

func (s *Scheduler) escalateStaleActivities() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.EscalateAfterHours) * time.Hour)
	escalated, err := s.activities.EscalateStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("stale activity sweep failed", zap.Error(err))
		return
	}
	if escalated > 0 {
		s.logger.Info("stale activities escalated", zap.Int64("count", escalated))
	}
}
