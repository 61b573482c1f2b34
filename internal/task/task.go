package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/events"
)

// TaskStatus represents the execution state of a background job.
// It is unrelated to the status of the manga task a job works on.
type TaskStatus string

// Possible job status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Job types, shared with the events package so emitters and workers agree.
const (
	TaskTypeMangaGeneration   = events.TypeMangaGeneration
	TaskTypePanelRegeneration = events.TypePanelRegeneration
	TaskTypeMaintenance       = events.TypeMaintenance
)

// Task represents a unit of background work to be processed
// Version: 2.0
type Task interface {
	// ID returns the job's unique identifier
	ID() uuid.UUID

	// Type returns the job type identifier
	Type() string

	// Payload returns the job data as JSON
	Payload() []byte

	// Status returns the current job status
	Status() TaskStatus

	// Execute runs the job. It must be safe to call again after a partial
	// or repeated delivery.
	Execute(ctx context.Context) error
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume tasks without the ability to enqueue
// Version: 1.0
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming tasks
	GetChannel() <-chan Task
}

// TaskQueueWriter provides write access to the task queue
// allowing services to enqueue tasks for processing
// Version: 1.0
type TaskQueueWriter interface {
	// Enqueue adds a task to the queue for processing
	// Returns an error if the queue is full or closed
	Enqueue(task Task) error

	// Close closes the task queue, preventing further task submission
	Close()
}

// JobRecord is a persisted job as read back from a TaskStore.
type JobRecord struct {
	ID           uuid.UUID
	Type         string
	Payload      json.RawMessage
	Status       TaskStatus
	Attempts     int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AvailableAt  time.Time
}

// TaskStore defines the interface for persisting jobs
// Version: 2.0
type TaskStore interface {
	// SaveTask persists a new pending job.
	SaveTask(ctx context.Context, task Task) error

	// UpdateTaskStatus updates the status and error message of a job.
	UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status TaskStatus, errorMsg string) error

	// MarkProcessing moves a job to processing, increments its attempt
	// counter and returns the new count.
	MarkProcessing(ctx context.Context, taskID uuid.UUID) (int, error)

	// ScheduleRetry puts a failed job back to pending, eligible again at availableAt.
	ScheduleRetry(ctx context.Context, taskID uuid.UUID, availableAt time.Time, errorMsg string) error

	// GetPendingTasks retrieves all jobs with "pending" status.
	GetPendingTasks(ctx context.Context) ([]*JobRecord, error)

	// GetProcessingTasks retrieves jobs with "processing" status.
	// If olderThan is non-zero, only returns jobs that have been in this state
	// longer than the specified duration.
	GetProcessingTasks(ctx context.Context, olderThan time.Duration) ([]*JobRecord, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) TaskStore
}
