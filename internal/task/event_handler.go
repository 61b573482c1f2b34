package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/manga-api/internal/events"
)

// Submitter accepts jobs for execution. TaskRunner implements it.
type Submitter interface {
	Submit(ctx context.Context, task Task) error
}

// TaskFactoryEventHandler implements the events.EventHandler interface by
// building the job an event describes and submitting it to a runner.
type TaskFactoryEventHandler struct {
	dispatcher *Dispatcher
	runner     Submitter
	logger     *slog.Logger
}

// NewTaskFactoryEventHandler creates a new event handler that uses dispatcher
// to build jobs and submits them to runner.
func NewTaskFactoryEventHandler(
	dispatcher *Dispatcher,
	runner Submitter,
	logger *slog.Logger,
) *TaskFactoryEventHandler {
	return &TaskFactoryEventHandler{
		dispatcher: dispatcher,
		runner:     runner,
		logger:     logger.With("component", "task_factory_event_handler"),
	}
}

// HandleEvent builds the job for event and submits it. The job keeps the
// event ID so retries and logs can be correlated with the request.
func (h *TaskFactoryEventHandler) HandleEvent(
	ctx context.Context,
	event *events.TaskRequestEvent,
) error {
	task, err := h.dispatcher.Build(event.Type, event.ID, event.Payload)
	if err != nil {
		h.logger.Error("failed to create task",
			"error", err,
			"event_id", event.ID,
			"event_type", event.Type)
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := h.runner.Submit(ctx, task); err != nil {
		h.logger.Error("failed to submit task",
			"error", err,
			"task_id", task.ID(),
			"event_type", event.Type)
		return fmt.Errorf("failed to submit task: %w", err)
	}

	h.logger.Info("task created and submitted successfully",
		"task_id", task.ID(),
		"event_type", event.Type)
	return nil
}

// Ensure TaskFactoryEventHandler implements events.EventHandler
var _ events.EventHandler = (*TaskFactoryEventHandler)(nil)
