package scheduler

import (
	"context"
	"log/slog"
	"time"

	"mp_harvester/internal/domain"
)

// Runner performs one full synchronize-and-materialize pass.
type Runner interface {
	RunOnce(ctx context.Context) (*domain.RunReport, error)
}

type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(runner Runner, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Start runs once immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "run_timeout", s.runTimeout)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	report, err := s.runner.RunOnce(runCtx)
	if err != nil {
		s.logger.Error("run failed", "error", err)
		return
	}
	if failed := report.Failed(); len(failed) > 0 {
		s.logger.Warn("run finished with failed sources", "failed", len(failed))
	}
}
