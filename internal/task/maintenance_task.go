package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/events"
)

// MaintenanceRunner runs one named housekeeping job.
type MaintenanceRunner interface {
	RunJob(ctx context.Context, job string) error
}

// MaintenanceTask implements the Task interface for a queued sweeper job.
type MaintenanceTask struct {
	id     uuid.UUID
	job    string
	runner MaintenanceRunner
	logger *slog.Logger
	status TaskStatus
}

// NewMaintenanceTask creates a job that runs the named sweeper job.
func NewMaintenanceTask(id uuid.UUID, job string, runner MaintenanceRunner, logger *slog.Logger) (*MaintenanceTask, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: maintenance runner", ErrNilDependency)
	}
	if job == "" {
		return nil, fmt.Errorf("%w: missing maintenance job name", ErrInvalidJob)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &MaintenanceTask{
		id:     id,
		job:    job,
		runner: runner,
		logger: logger.With("job_type", TaskTypeMaintenance, "job", job, "job_id", id),
		status: TaskStatusPending,
	}, nil
}

// ID returns the job's unique identifier
func (t *MaintenanceTask) ID() uuid.UUID { return t.id }

// Type returns the job type identifier
func (t *MaintenanceTask) Type() string { return TaskTypeMaintenance }

// Payload returns the job data as JSON
func (t *MaintenanceTask) Payload() []byte {
	data, err := json.Marshal(events.MaintenancePayload{Job: t.job})
	if err != nil {
		t.logger.Error("failed to marshal task payload", "error", err)
		return []byte{}
	}
	return data
}

// Status returns the current job status
func (t *MaintenanceTask) Status() TaskStatus { return t.status }

// Execute runs the sweeper job.
func (t *MaintenanceTask) Execute(ctx context.Context) error {
	t.status = TaskStatusProcessing
	if err := t.runner.RunJob(ctx, t.job); err != nil {
		t.status = TaskStatusFailed
		t.logger.Error("maintenance job failed", "error", err)
		return err
	}
	t.status = TaskStatusCompleted
	return nil
}

// MaintenanceTaskFactory creates MaintenanceTask instances
type MaintenanceTaskFactory struct {
	runner MaintenanceRunner
	logger *slog.Logger
}

// NewMaintenanceTaskFactory creates a new factory for MaintenanceTasks
func NewMaintenanceTaskFactory(runner MaintenanceRunner, logger *slog.Logger) (*MaintenanceTaskFactory, error) {
	if runner == nil {
		return nil, errors.Join(ErrNilDependency, errors.New("maintenance runner"))
	}
	return &MaintenanceTaskFactory{runner: runner, logger: logger}, nil
}

// CreateTask builds a job from its persisted payload. It satisfies Factory.
func (f *MaintenanceTaskFactory) CreateTask(id uuid.UUID, payload []byte) (Task, error) {
	var data events.MaintenancePayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return NewMaintenanceTask(id, data.Job, f.runner, f.logger)
}
