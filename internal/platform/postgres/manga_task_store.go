package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/store"
)

const taskColumns = `id, user_session_id, status, story_text, parameters, progress,
	total_panels, current_panel, error_message, created_at, updated_at, completed_at`

// PostgresMangaTaskStore implements the store.MangaTaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresMangaTaskStore struct {
	db     store.DBTX
	sqlDB  *sql.DB
	logger *slog.Logger
}

// NewPostgresMangaTaskStore creates a new PostgreSQL implementation of the MangaTaskStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresMangaTaskStore(db *sql.DB, logger *slog.Logger) *PostgresMangaTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresMangaTaskStore{
		db:     db,
		sqlDB:  db,
		logger: logger.With(slog.String("component", "manga_task_store")),
	}
}

// Ensure PostgresMangaTaskStore implements store.MangaTaskStore interface
var _ store.MangaTaskStore = (*PostgresMangaTaskStore)(nil)

// WithTx returns a store that runs its statements on tx.
func (s *PostgresMangaTaskStore) WithTx(tx *sql.Tx) store.MangaTaskStore {
	return &PostgresMangaTaskStore{
		db:     tx,
		sqlDB:  s.sqlDB,
		logger: s.logger,
	}
}

// DB returns the underlying connection pool.
func (s *PostgresMangaTaskStore) DB() *sql.DB {
	return s.sqlDB
}

// Create implements store.MangaTaskStore.Create
func (s *PostgresMangaTaskStore) Create(ctx context.Context, task *domain.MangaTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	params, err := json.Marshal(task.Parameters)
	if err != nil {
		return fmt.Errorf("%w: encode parameters: %v", store.ErrInvalidEntity, err)
	}

	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	query := `
		INSERT INTO manga_tasks (id, user_session_id, status, story_text, parameters, progress,
			total_panels, current_panel, error_message, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.SessionID,
		string(task.Status),
		task.StoryText,
		params,
		task.Progress,
		task.TotalPanels,
		task.CurrentPanel,
		task.ErrorMessage,
		task.CreatedAt,
		task.UpdatedAt,
		task.CompletedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("session_id", task.SessionID),
		slog.Int("num_scenes", task.Parameters.NumScenes))
	return nil
}

// GetByID implements store.MangaTaskStore.GetByID
func (s *PostgresMangaTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.MangaTask, error) {
	return s.get(ctx, id, false)
}

// GetByIDForUpdate implements store.MangaTaskStore.GetByIDForUpdate
func (s *PostgresMangaTaskStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.MangaTask, error) {
	return s.get(ctx, id, true)
}

func (s *PostgresMangaTaskStore) get(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.MangaTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM manga_tasks WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}
	return task, nil
}

// ListBySession implements store.MangaTaskStore.ListBySession
func (s *PostgresMangaTaskStore) ListBySession(
	ctx context.Context,
	sessionID string,
	limit, offset int,
) ([]*domain.MangaTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + `
		FROM manga_tasks
		WHERE user_session_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		log.Error("failed to list tasks",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// Update implements store.MangaTaskStore.Update
func (s *PostgresMangaTaskStore) Update(ctx context.Context, task *domain.MangaTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE manga_tasks
		SET status = $1, progress = $2, total_panels = $3, current_panel = $4,
			error_message = $5, updated_at = $6, completed_at = $7
		WHERE id = $8
	`
	result, err := s.db.ExecContext(ctx, query,
		string(task.Status),
		task.Progress,
		task.TotalPanels,
		task.CurrentPanel,
		task.ErrorMessage,
		task.UpdatedAt,
		task.CompletedAt,
		task.ID,
	)
	if err != nil {
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "task"); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrTaskNotFound
		}
		return err
	}

	log.Debug("task updated",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)),
		slog.Int("progress", task.Progress))
	return nil
}

// FailStale implements store.MangaTaskStore.FailStale
func (s *PostgresMangaTaskStore) FailStale(
	ctx context.Context,
	statuses []domain.TaskStatus,
	olderThan time.Duration,
	message string,
) ([]*domain.MangaTask, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	log := logger.FromContextOrDefault(ctx, s.logger)

	now := time.Now().UTC()
	in, statusArgs := statusPlaceholders(statuses, 4)
	query := fmt.Sprintf(`
		UPDATE manga_tasks
		SET status = $1, error_message = $2, updated_at = $3
		WHERE status IN (%s) AND updated_at < $%d
		RETURNING %s`, in, 4+len(statuses), taskColumns)

	args := append([]any{string(domain.TaskStatusFailed), message, now}, statusArgs...)
	args = append(args, now.Add(-olderThan))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to fail stale tasks", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// DeleteFinishedBefore implements store.MangaTaskStore.DeleteFinishedBefore
func (s *PostgresMangaTaskStore) DeleteFinishedBefore(
	ctx context.Context,
	statuses []domain.TaskStatus,
	cutoff time.Time,
) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	in, args := statusPlaceholders(statuses, 1)
	query := fmt.Sprintf(`DELETE FROM manga_tasks WHERE status IN (%s) AND created_at < $%d`,
		in, 1+len(statuses))
	args = append(args, cutoff.UTC())

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to delete old tasks",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}
	return result.RowsAffected()
}

// CountByStatus implements store.MangaTaskStore.CountByStatus
func (s *PostgresMangaTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM manga_tasks GROUP BY status`)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, MapError(err)
		}
		counts[domain.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return counts, nil
}

// CountCreatedSince implements store.MangaTaskStore.CountCreatedSince
func (s *PostgresMangaTaskStore) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM manga_tasks WHERE created_at >= $1`, since.UTC()).Scan(&n)
	if err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.MangaTask, error) {
	var (
		task         domain.MangaTask
		status       string
		params       []byte
		errorMessage sql.NullString
		completedAt  sql.NullTime
	)
	err := row.Scan(
		&task.ID,
		&task.SessionID,
		&status,
		&task.StoryText,
		&params,
		&task.Progress,
		&task.TotalPanels,
		&task.CurrentPanel,
		&errorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &task.Parameters); err != nil {
			return nil, fmt.Errorf("decode task parameters: %w", err)
		}
	}
	if errorMessage.Valid {
		msg := errorMessage.String
		task.ErrorMessage = &msg
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*domain.MangaTask, error) {
	tasks := make([]*domain.MangaTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}
