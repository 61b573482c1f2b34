package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/events"
	"github.com/phrazzld/manga-api/internal/maintenance"
	"github.com/phrazzld/manga-api/internal/storage"
	"github.com/phrazzld/manga-api/internal/store"
)

// Messages recorded on tasks by the service.
const (
	CancelledMessage     = "Task cancelled by user"
	EnqueueFailedMessage = "Failed to queue task for processing"
)

// Page bounds for ListTasks.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// StoryPreviewLength is the number of runes of the story shown in task lists.
const StoryPreviewLength = 100

// CreateTaskRequest is a request to turn a story into panels.
type CreateTaskRequest struct {
	// SessionID groups the caller's tasks. An empty value starts a new session.
	SessionID string
	Story     string
	// NumScenes is the requested panel count. Zero selects the default.
	NumScenes int
	Style     domain.StyleParameters
}

// TaskDetails is a task with all of its panel rows.
type TaskDetails struct {
	Task   *domain.MangaTask
	Panels []*domain.Panel
}

// TaskListItem is one entry of a session's task list.
type TaskListItem struct {
	Task       *domain.MangaTask
	PanelCount int
}

// ReferenceImage is an image uploaded to guide a regeneration.
type ReferenceImage struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// RegenerationRequest asks for a new rendering of one panel.
type RegenerationRequest struct {
	TaskID              uuid.UUID
	PanelNumber         int
	ModificationRequest string
	ReplaceOriginal     bool
	Reference           *ReferenceImage
}

// RegenerationTicket identifies an accepted regeneration.
type RegenerationTicket struct {
	TaskID             uuid.UUID
	PanelNumber        int
	RegeneratedPanelID uuid.UUID
	ReplaceOriginal    bool
}

// MangaService provides the manga generation use cases.
type MangaService interface {
	// CreateTask validates and persists a new task and enqueues its generation.
	CreateTask(ctx context.Context, req CreateTaskRequest) (*domain.MangaTask, error)

	// GetTaskStatus returns a task with its panels.
	GetTaskStatus(ctx context.Context, taskID uuid.UUID) (*TaskDetails, error)

	// ListTasks returns a page of a session's tasks, newest first.
	ListTasks(ctx context.Context, sessionID string, limit, offset int) ([]TaskListItem, error)

	// RequestPanelRegeneration creates the regenerated panel row, stores the
	// optional reference image and enqueues the regeneration.
	RequestPanelRegeneration(ctx context.Context, req RegenerationRequest) (*RegenerationTicket, error)

	// CancelTask marks a task cancelled. Running workers stop at their next check.
	CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.MangaTask, error)

	// TouchSession records activity on a session, creating it when new.
	TouchSession(ctx context.Context, sessionID string) error

	// EnqueueMaintenance queues one run of a maintenance job.
	EnqueueMaintenance(ctx context.Context, job string) (uuid.UUID, error)
}

// mangaServiceImpl implements the MangaService interface
type mangaServiceImpl struct {
	stores  store.Stores
	uow     store.UnitOfWork
	objects storage.Storage
	emitter events.EventEmitter
	logger  *slog.Logger
}

var _ MangaService = (*mangaServiceImpl)(nil)

// NewMangaService creates a new MangaService
// It returns an error if any of the required dependencies are nil.
func NewMangaService(
	stores store.Stores,
	uow store.UnitOfWork,
	objects storage.Storage,
	emitter events.EventEmitter,
	logger *slog.Logger,
) (MangaService, error) {
	switch {
	case stores.Tasks == nil || stores.Panels == nil || stores.Sessions == nil:
		return nil, &ServiceError{Operation: "create_service", Message: "task, panel and session stores are required"}
	case uow == nil:
		return nil, &ServiceError{Operation: "create_service", Message: "unit of work cannot be nil"}
	case objects == nil:
		return nil, &ServiceError{Operation: "create_service", Message: "storage cannot be nil"}
	case emitter == nil:
		return nil, &ServiceError{Operation: "create_service", Message: "event emitter cannot be nil"}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &mangaServiceImpl{
		stores:  stores,
		uow:     uow,
		objects: objects,
		emitter: emitter,
		logger:  logger.With("component", "manga_service"),
	}, nil
}

// CreateTask implements MangaService.
func (s *mangaServiceImpl) CreateTask(ctx context.Context, req CreateTaskRequest) (*domain.MangaTask, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	task, err := domain.NewMangaTask(sessionID, req.Story, req.NumScenes, req.Style)
	if err != nil {
		return nil, err
	}

	if err := s.stores.Sessions.Touch(ctx, sessionID); err != nil {
		s.logger.Error("failed to touch session", "error", err, "session_id", sessionID)
		return nil, NewServiceError("create_task", "failed to record session", err)
	}

	if err := s.stores.Tasks.Create(ctx, task); err != nil {
		s.logger.Error("failed to save task", "error", err, "session_id", sessionID)
		return nil, NewServiceError("create_task", "failed to save task", err)
	}

	s.logger.Info("task created with pending status",
		"task_id", task.ID,
		"session_id", sessionID,
		"num_scenes", task.Parameters.NumScenes)

	event, err := events.NewTaskRequestEvent(events.TypeMangaGeneration, events.MangaGenerationPayload{TaskID: task.ID})
	if err == nil {
		err = s.emitter.EmitEvent(ctx, event)
	}
	if err != nil {
		s.logger.Error("failed to enqueue manga generation",
			"error", err,
			"task_id", task.ID,
			"session_id", sessionID)
		s.abandonTask(ctx, task)
		return nil, NewServiceError("create_task", "failed to enqueue task", err)
	}

	s.logger.Info("manga generation enqueued",
		"task_id", task.ID,
		"event_id", event.ID)
	return task, nil
}

// abandonTask fails a task whose job could not be enqueued so it does not
// sit in PENDING until the sweeper finds it.
func (s *mangaServiceImpl) abandonTask(ctx context.Context, task *domain.MangaTask) {
	task.Fail(EnqueueFailedMessage)
	if err := s.stores.Tasks.Update(context.WithoutCancel(ctx), task); err != nil {
		s.logger.Error("failed to mark unqueued task failed", "error", err, "task_id", task.ID)
	}
}

// GetTaskStatus implements MangaService.
func (s *mangaServiceImpl) GetTaskStatus(ctx context.Context, taskID uuid.UUID) (*TaskDetails, error) {
	task, err := s.stores.Tasks.GetByID(ctx, taskID)
	if err != nil {
		if !errors.Is(err, store.ErrTaskNotFound) {
			s.logger.Error("failed to retrieve task", "error", err, "task_id", taskID)
		}
		return nil, NewServiceError("get_task_status", "failed to retrieve task", err)
	}

	panels, err := s.stores.Panels.ListByTask(ctx, taskID)
	if err != nil {
		s.logger.Error("failed to list task panels", "error", err, "task_id", taskID)
		return nil, NewServiceError("get_task_status", "failed to list panels", err)
	}

	return &TaskDetails{Task: task, Panels: panels}, nil
}

// ListTasks implements MangaService.
func (s *mangaServiceImpl) ListTasks(ctx context.Context, sessionID string, limit, offset int) ([]TaskListItem, error) {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if limit < 1 || limit > MaxListLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, MaxListLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset cannot be negative", domain.ErrValidation)
	}

	tasks, err := s.stores.Tasks.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err, "session_id", sessionID)
		return nil, NewServiceError("list_tasks", "failed to list tasks", err)
	}

	items := make([]TaskListItem, 0, len(tasks))
	for _, t := range tasks {
		panels, err := s.stores.Panels.ListByTask(ctx, t.ID)
		if err != nil {
			s.logger.Error("failed to count task panels", "error", err, "task_id", t.ID)
			return nil, NewServiceError("list_tasks", "failed to count panels", err)
		}
		items = append(items, TaskListItem{Task: t, PanelCount: len(panels)})
	}
	return items, nil
}

// RequestPanelRegeneration implements MangaService.
func (s *mangaServiceImpl) RequestPanelRegeneration(
	ctx context.Context,
	req RegenerationRequest,
) (*RegenerationTicket, error) {
	if req.PanelNumber < 1 {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInvalidPanelNumber)
	}
	if strings.TrimSpace(req.ModificationRequest) == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyModification)
	}

	var (
		task  *domain.MangaTask
		panel *domain.Panel
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx store.Stores) error {
		var err error
		task, err = tx.Tasks.GetByID(ctx, req.TaskID)
		if err != nil {
			return err
		}

		original, err := tx.Panels.GetOriginal(ctx, req.TaskID, req.PanelNumber)
		if err != nil {
			return err
		}
		if original.Status != domain.PanelStatusCompleted {
			return fmt.Errorf("%w: panel %d is %s", ErrPanelNotCompleted, req.PanelNumber, original.Status)
		}
		count, err := tx.Panels.CountRegenerations(ctx, original.ID)
		if err != nil {
			return err
		}

		panel, err = domain.NewRegeneratedPanel(original, req.ModificationRequest, 2+count)
		if err != nil {
			return err
		}
		return tx.Panels.Create(ctx, panel)
	})
	if err != nil {
		if !isClientError(err) {
			s.logger.Error("failed to create regenerated panel",
				"error", err,
				"task_id", req.TaskID,
				"panel_number", req.PanelNumber)
		}
		return nil, NewServiceError("request_regeneration", "failed to create regenerated panel", err)
	}

	log := s.logger.With(
		"task_id", task.ID,
		"panel_number", panel.PanelNumber,
		"regenerated_panel_id", panel.ID,
		"version", panel.Version)

	var referenceKey string
	if req.Reference != nil {
		referenceKey, err = s.storeReference(ctx, task.ID, panel.ID, req.Reference)
		if err != nil {
			log.Error("failed to store reference image", "error", err)
			s.abandonPanel(ctx, panel, "")
			return nil, NewServiceError("request_regeneration", "failed to store reference image", err)
		}
	}

	payload := events.PanelRegenerationPayload{
		TaskID:              task.ID,
		PanelNumber:         panel.PanelNumber,
		RegeneratedPanelID:  panel.ID,
		ModificationRequest: strings.TrimSpace(req.ModificationRequest),
		ReferenceImageKey:   referenceKey,
		ReplaceOriginal:     req.ReplaceOriginal,
		SessionID:           task.SessionID,
	}
	event, err := events.NewTaskRequestEvent(events.TypePanelRegeneration, payload)
	if err == nil {
		err = s.emitter.EmitEvent(ctx, event)
	}
	if err != nil {
		log.Error("failed to enqueue panel regeneration", "error", err)
		s.abandonPanel(ctx, panel, referenceKey)
		return nil, NewServiceError("request_regeneration", "failed to enqueue regeneration", err)
	}

	log.Info("panel regeneration enqueued", "event_id", event.ID, "has_reference", referenceKey != "")
	return &RegenerationTicket{
		TaskID:             task.ID,
		PanelNumber:        panel.PanelNumber,
		RegeneratedPanelID: panel.ID,
		ReplaceOriginal:    req.ReplaceOriginal,
	}, nil
}

func (s *mangaServiceImpl) storeReference(
	ctx context.Context,
	taskID, panelID uuid.UUID,
	ref *ReferenceImage,
) (string, error) {
	ext := strings.ToLower(path.Ext(ref.Filename))
	if ext == "" {
		ext = storage.ExtensionFor(ref.ContentType)
	}
	key := storage.ReferenceKey(taskID, panelID, ext)
	if _, err := s.objects.Upload(ctx, key, ref.Body, ref.Size, storage.ContentTypeFor(key)); err != nil {
		return "", err
	}
	return key, nil
}

// abandonPanel fails a regenerated row whose job never started and removes
// its reference image.
func (s *mangaServiceImpl) abandonPanel(ctx context.Context, panel *domain.Panel, referenceKey string) {
	ctx = context.WithoutCancel(ctx)
	panel.Status = domain.PanelStatusFailed
	if err := s.stores.Panels.Update(ctx, panel); err != nil {
		s.logger.Error("failed to mark regenerated panel failed", "error", err, "regenerated_panel_id", panel.ID)
	}
	if referenceKey != "" {
		if err := s.objects.Delete(ctx, referenceKey); err != nil {
			s.logger.Warn("failed to delete reference image", "error", err, "key", referenceKey)
		}
	}
}

// CancelTask implements MangaService.
func (s *mangaServiceImpl) CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.MangaTask, error) {
	var task *domain.MangaTask
	err := s.uow.Do(ctx, func(ctx context.Context, tx store.Stores) error {
		var err error
		task, err = tx.Tasks.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if err := task.Cancel(CancelledMessage); err != nil {
			if errors.Is(err, domain.ErrTaskTerminal) {
				return fmt.Errorf("%w: status is %s", ErrTaskNotCancellable, task.Status)
			}
			return err
		}
		return tx.Tasks.Update(ctx, task)
	})
	if err != nil {
		if !isClientError(err) {
			s.logger.Error("failed to cancel task", "error", err, "task_id", taskID)
		}
		return nil, NewServiceError("cancel_task", "failed to cancel task", err)
	}

	s.logger.Info("task cancelled", "task_id", taskID, "session_id", task.SessionID)
	return task, nil
}

// TouchSession implements MangaService.
func (s *mangaServiceImpl) TouchSession(ctx context.Context, sessionID string) error {
	if err := s.stores.Sessions.Touch(ctx, sessionID); err != nil {
		return NewServiceError("touch_session", "failed to record session activity", err)
	}
	return nil
}

// EnqueueMaintenance implements MangaService.
func (s *mangaServiceImpl) EnqueueMaintenance(ctx context.Context, job string) (uuid.UUID, error) {
	if !maintenance.KnownJob(job) {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownMaintenanceJob, job)
	}

	event, err := events.NewTaskRequestEvent(events.TypeMaintenance, events.MaintenancePayload{Job: job})
	if err == nil {
		err = s.emitter.EmitEvent(ctx, event)
	}
	if err != nil {
		s.logger.Error("failed to enqueue maintenance job", "error", err, "job", job)
		return uuid.Nil, NewServiceError("enqueue_maintenance", "failed to enqueue maintenance job", err)
	}

	s.logger.Info("maintenance job enqueued", "job", job, "event_id", event.ID)
	return event.ID, nil
}

func isClientError(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, ErrPanelNotCompleted) ||
		errors.Is(err, ErrTaskNotCancellable)
}
