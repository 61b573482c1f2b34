package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/store"
	"github.com/phrazzld/manga-api/internal/task"
)

const jobColumns = `id, type, payload, status, attempts, error_message, created_at, updated_at, available_at`

// PostgresJobStore implements the task.TaskStore interface on the
// background_jobs table.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgresJobStore
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

var _ task.TaskStore = (*PostgresJobStore)(nil)

// WithTx returns a store that runs its statements on tx.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) task.TaskStore {
	return &PostgresJobStore{db: tx, logger: s.logger}
}

// SaveTask persists a job to the database
func (s *PostgresJobStore) SaveTask(ctx context.Context, t task.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO background_jobs (id, type, payload, status, attempts, created_at, updated_at, available_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5, $5)
	`
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, query,
		t.ID(),
		t.Type(),
		t.Payload(),
		string(t.Status()),
		now,
	)
	if err != nil {
		log.Error("failed to save job",
			"job_id", t.ID(),
			"job_type", t.Type(),
			"error", err)
		return fmt.Errorf("failed to save job to database: %w", MapError(err))
	}
	return nil
}

// UpdateTaskStatus updates the status of a job in the database.
// A missing job is treated as a no-op.
func (s *PostgresJobStore) UpdateTaskStatus(
	ctx context.Context,
	jobID uuid.UUID,
	status task.TaskStatus,
	errorMsg string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE background_jobs
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query, string(status), nullString(errorMsg), time.Now().UTC(), jobID)
	if err != nil {
		log.Error("failed to update job status",
			"job_id", jobID,
			"status", status,
			"error", err)
		return fmt.Errorf("failed to update job status: %w", MapError(err))
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		log.Warn("no job found with ID to update status", "job_id", jobID)
	}
	return nil
}

// MarkProcessing moves a job to processing and returns its new attempt count.
func (s *PostgresJobStore) MarkProcessing(ctx context.Context, jobID uuid.UUID) (int, error) {
	query := `
		UPDATE background_jobs
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3
		RETURNING attempts
	`
	var attempts int
	err := s.db.QueryRowContext(ctx, query, string(task.TaskStatusProcessing), time.Now().UTC(), jobID).
		Scan(&attempts)
	if err != nil {
		if IsNotFoundError(err) {
			return 0, store.ErrJobNotFound
		}
		return 0, fmt.Errorf("failed to mark job processing: %w", MapError(err))
	}
	return attempts, nil
}

// ScheduleRetry returns a job to pending, eligible again at availableAt.
func (s *PostgresJobStore) ScheduleRetry(
	ctx context.Context,
	jobID uuid.UUID,
	availableAt time.Time,
	errorMsg string,
) error {
	query := `
		UPDATE background_jobs
		SET status = $1, error_message = $2, available_at = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := s.db.ExecContext(ctx, query,
		string(task.TaskStatusPending),
		nullString(errorMsg),
		availableAt.UTC(),
		time.Now().UTC(),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job retry: %w", MapError(err))
	}
	if err := CheckRowsAffected(result, "job"); err != nil {
		return store.ErrJobNotFound
	}
	return nil
}

// GetPendingTasks retrieves all jobs with "pending" status
func (s *PostgresJobStore) GetPendingTasks(ctx context.Context) ([]*task.JobRecord, error) {
	return s.getJobsByStatus(ctx, task.TaskStatusPending, 0)
}

// GetProcessingTasks retrieves jobs with "processing" status
func (s *PostgresJobStore) GetProcessingTasks(ctx context.Context, olderThan time.Duration) ([]*task.JobRecord, error) {
	return s.getJobsByStatus(ctx, task.TaskStatusProcessing, olderThan)
}

// getJobsByStatus is a helper method to get jobs by status with optional age filter
func (s *PostgresJobStore) getJobsByStatus(
	ctx context.Context,
	status task.TaskStatus,
	olderThan time.Duration,
) ([]*task.JobRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + jobColumns + ` FROM background_jobs WHERE status = $1`
	args := []any{string(status)}
	if olderThan > 0 {
		query += ` AND updated_at < $2`
		args = append(args, time.Now().UTC().Add(-olderThan))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query jobs by status",
			"status", status,
			"error", err)
		return nil, fmt.Errorf("failed to query jobs by status: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*task.JobRecord, 0)
	for rows.Next() {
		var (
			job          task.JobRecord
			jobStatus    string
			payload      []byte
			errorMessage sql.NullString
		)
		if err := rows.Scan(
			&job.ID,
			&job.Type,
			&payload,
			&jobStatus,
			&job.Attempts,
			&errorMessage,
			&job.CreatedAt,
			&job.UpdatedAt,
			&job.AvailableAt,
		); err != nil {
			log.Error("failed to scan job row",
				"status", status,
				"error", err)
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		job.Status = task.TaskStatus(jobStatus)
		job.Payload = payload
		job.ErrorMessage = errorMessage.String
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
