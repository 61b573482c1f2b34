package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/task"
	"github.com/robfig/cron/v3"
)

// jobTimeout bounds one scheduled run.
const jobTimeout = 10 * time.Minute

// Scheduler runs the sweeper jobs on cron schedules.
type Scheduler struct {
	cron      *cron.Cron
	runner    task.MaintenanceRunner
	schedules map[string]string
	logger    *slog.Logger
}

// NewScheduler registers the four sweeper jobs of runner on the given
// schedules. Invalid schedule specs are reported here rather than at Start.
func NewScheduler(runner task.MaintenanceRunner, schedules config.Schedules, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler requires a maintenance runner")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		schedules: map[string]string{
			JobFailStuckTasks:     schedules.FailStuckTasks,
			JobCleanupOldTasks:    schedules.CleanupOldTasks,
			JobCleanupOldSessions: schedules.CleanupOldSessions,
			JobStatistics:         schedules.Statistics,
		},
		logger: logger.With("component", "maintenance_scheduler"),
	}

	for job, spec := range s.schedules {
		if _, err := s.cron.AddFunc(spec, s.jobFunc(job)); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job, spec, err)
		}
	}
	return s, nil
}

// jobFunc runs job once, logging its failure. A failed job is retried on
// its next tick.
func (s *Scheduler) jobFunc(job string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := s.runner.RunJob(ctx, job); err != nil {
			s.logger.Error("maintenance job failed", "job", job, "error", err)
			return
		}
		s.logger.Debug("maintenance job finished", "job", job, "duration", time.Since(start))
	}
}

// Start begins running the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "schedules", s.schedules)
}

// Stop stops scheduling new runs and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for maintenance jobs: %w", ctx.Err())
	}
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
