package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
)

// MangaTaskStore defines the interface for manga task persistence.
// Version: 1.0
type MangaTaskStore interface {
	// Create saves a new task. Timestamps are assigned by the store.
	// Returns validation errors from the domain MangaTask if data is invalid.
	Create(ctx context.Context, task *domain.MangaTask) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.MangaTask, error)

	// GetByIDForUpdate retrieves a task and locks its row until the enclosing
	// transaction ends. Only meaningful on a store bound with WithTx.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.MangaTask, error)

	// ListBySession returns a page of the session's tasks, newest first.
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*domain.MangaTask, error)

	// Update writes the mutable fields of an existing task and refreshes
	// its updated_at timestamp. Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, task *domain.MangaTask) error

	// FailStale marks tasks whose status is one of statuses and whose last update
	// is older than olderThan as FAILED with message, returning the affected tasks.
	FailStale(ctx context.Context, statuses []domain.TaskStatus, olderThan time.Duration, message string) ([]*domain.MangaTask, error)

	// DeleteFinishedBefore removes tasks in one of statuses created before cutoff.
	// Panels are removed by cascade. Returns the number of deleted tasks.
	DeleteFinishedBefore(ctx context.Context, statuses []domain.TaskStatus, cutoff time.Time) (int64, error)

	// CountByStatus returns the number of tasks per status.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error)

	// CountCreatedSince returns the number of tasks created at or after since.
	CountCreatedSince(ctx context.Context, since time.Time) (int64, error)

	// WithTx returns a new MangaTaskStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) MangaTaskStore

	// DB returns the underlying database connection used to open transactions.
	DB() *sql.DB
}
