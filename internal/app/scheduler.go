package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ecard/internal/config"
	"ecard/internal/service"
)

// Maintainer runs the engine's repair and expiry passes.
type Maintainer interface {
	Reconcile(ctx context.Context, limit int) (*service.ReconcileSummary, error)
	ExpireDue(ctx context.Context, limit int) (*service.ReconcileSummary, error)
}

// Jobs contains the logic for the scheduled tasks.
type Jobs struct {
	maintainer Maintainer
	batchSize  int
	timeout    time.Duration
	logger     *slog.Logger
}

// NewJobs creates a new Jobs runner. Each run is bounded by timeout.
func NewJobs(maintainer Maintainer, batchSize int, timeout time.Duration, logger *slog.Logger) *Jobs {
	return &Jobs{
		maintainer: maintainer,
		batchSize:  batchSize,
		timeout:    timeout,
		logger:     logger,
	}
}

// ExpireCards expires active cards whose validity has run out.
func (j *Jobs) ExpireCards() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	summary, err := j.maintainer.ExpireDue(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("ecard expiry job failed", "error", err)
		return
	}
	j.logger.Debug("ecard expiry job finished", "expired", summary.Expired, "failed", summary.Failed)
}

// Reconcile repairs half-finished cross-entity transitions.
func (j *Jobs) Reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.maintainer.Reconcile(ctx, j.batchSize); err != nil {
		j.logger.Error("reconciliation job failed", "error", err)
	}
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.SchedulerConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.config.ExpirySchedule, s.jobs.ExpireCards); err != nil {
		return fmt.Errorf("failed to schedule ecard expiry job: %w", err)
	}
	s.logger.Info("scheduled ecard expiry job", "schedule", s.config.ExpirySchedule)

	if _, err := s.cron.AddFunc(s.config.ReconcileSchedule, s.jobs.Reconcile); err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}
	s.logger.Info("scheduled reconciliation job", "schedule", s.config.ReconcileSchedule)

	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
