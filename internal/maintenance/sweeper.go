// Package maintenance holds the periodic housekeeping jobs: failing tasks
// abandoned by a worker, pruning old tasks and sessions, and computing the
// statistics shown on the admin channel.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/manga-api/internal/config"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/phrazzld/manga-api/internal/store"
	"github.com/phrazzld/manga-api/internal/task"
)

// Job names accepted by RunJob.
const (
	JobFailStuckTasks     = "fail_stuck_tasks"
	JobCleanupOldTasks    = "cleanup_old_tasks"
	JobCleanupOldSessions = "cleanup_old_sessions"
	JobStatistics         = "statistics"
)

// KnownJob reports whether RunJob accepts name.
func KnownJob(name string) bool {
	switch name {
	case JobFailStuckTasks, JobCleanupOldTasks, JobCleanupOldSessions, JobStatistics:
		return true
	}
	return false
}

// StuckTaskMessage is the error recorded on tasks failed by FailStuckTasks.
const StuckTaskMessage = "Task timed out"

// ErrUnknownJob is returned by RunJob for a name it does not know.
var ErrUnknownJob = errors.New("unknown maintenance job")

// Config bounds what the sweeper considers stuck or old.
type Config struct {
	StuckTimeout     time.Duration
	TaskRetention    time.Duration
	SessionRetention time.Duration
}

// NewConfig extracts the sweeper settings from the task configuration.
func NewConfig(cfg config.TaskConfig) Config {
	return Config{
		StuckTimeout:     cfg.StuckTimeout,
		TaskRetention:    cfg.TaskRetention,
		SessionRetention: cfg.SessionRetention,
	}
}

// Sweeper runs the maintenance jobs against the stores.
type Sweeper struct {
	tasks     store.MangaTaskStore
	panels    store.PanelStore
	sessions  store.SessionStore
	publisher progress.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	latest *domain.TaskStatistics
}

var _ task.MaintenanceRunner = (*Sweeper)(nil)

// NewSweeper creates a Sweeper. A nil publisher discards progress events.
func NewSweeper(
	tasks store.MangaTaskStore,
	panels store.PanelStore,
	sessions store.SessionStore,
	publisher progress.Publisher,
	cfg Config,
	logger *slog.Logger,
) (*Sweeper, error) {
	if tasks == nil || panels == nil || sessions == nil {
		return nil, errors.New("sweeper requires task, panel and session stores")
	}
	if cfg.StuckTimeout <= 0 || cfg.TaskRetention <= 0 || cfg.SessionRetention <= 0 {
		return nil, fmt.Errorf("invalid sweeper config: %+v", cfg)
	}
	if publisher == nil {
		publisher = progress.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		tasks:     tasks,
		panels:    panels,
		sessions:  sessions,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "maintenance_sweeper"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunJob implements task.MaintenanceRunner.
func (s *Sweeper) RunJob(ctx context.Context, job string) error {
	var err error
	switch job {
	case JobFailStuckTasks:
		_, err = s.FailStuckTasks(ctx)
	case JobCleanupOldTasks:
		_, err = s.CleanupOldTasks(ctx)
	case JobCleanupOldSessions:
		_, err = s.CleanupOldSessions(ctx)
	case JobStatistics:
		_, err = s.GenerateStatistics(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	return err
}

// FailStuckTasks fails every active task that has not been updated within
// the stuck timeout and tells its session. It returns the number of tasks
// failed.
func (s *Sweeper) FailStuckTasks(ctx context.Context) (int, error) {
	stuck, err := s.tasks.FailStale(ctx, domain.ActiveTaskStatuses, s.cfg.StuckTimeout, StuckTaskMessage)
	if err != nil {
		return 0, fmt.Errorf("fail stuck tasks: %w", err)
	}

	for _, t := range stuck {
		s.logger.Warn("failed stuck task",
			"task_id", t.ID,
			"session_id", t.SessionID,
			"stuck_timeout", s.cfg.StuckTimeout)
		if err := s.publisher.Publish(ctx, t.SessionID, progress.TaskUpdate(t, StuckTaskMessage)); err != nil {
			s.logger.Warn("failed to publish stuck task failure", "task_id", t.ID, "error", err)
		}
	}
	if len(stuck) > 0 {
		s.logger.Info("stuck task sweep finished", "failed", len(stuck))
	}
	return len(stuck), nil
}

// CleanupOldTasks deletes finished tasks created before the retention period.
func (s *Sweeper) CleanupOldTasks(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.TaskRetention)
	n, err := s.tasks.DeleteFinishedBefore(ctx, domain.FinishedTaskStatuses, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old tasks: %w", err)
	}
	s.logger.Info("old tasks cleaned up", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// CleanupOldSessions deletes sessions inactive for longer than the
// session retention period.
func (s *Sweeper) CleanupOldSessions(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.SessionRetention)
	n, err := s.sessions.DeleteInactiveBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old sessions: %w", err)
	}
	s.logger.Info("old sessions cleaned up", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// GenerateStatistics computes and caches a statistics snapshot.
func (s *Sweeper) GenerateStatistics(ctx context.Context) (*domain.TaskStatistics, error) {
	counts, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	now := s.now()
	recent, err := s.tasks.CountCreatedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count recent tasks: %w", err)
	}
	panels, err := s.panels.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count panels: %w", err)
	}

	stats := &domain.TaskStatistics{
		StatusCounts: counts,
		RecentTasks:  recent,
		TotalPanels:  panels,
		GeneratedAt:  now,
	}
	for _, n := range counts {
		stats.TotalTasks += n
	}

	s.mu.Lock()
	s.latest = stats
	s.mu.Unlock()

	s.logger.Info("task statistics",
		"total_tasks", stats.TotalTasks,
		"recent_tasks_24h", stats.RecentTasks,
		"total_panels", stats.TotalPanels,
		"status_counts", counts)
	return stats, nil
}

// LatestStatistics returns the last snapshot, or nil before the first run.
// It matches progress.StatsFunc.
func (s *Sweeper) LatestStatistics(context.Context) (*domain.TaskStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, nil
}
