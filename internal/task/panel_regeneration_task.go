package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/events"
	"github.com/phrazzld/manga-api/internal/generation"
	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/phrazzld/manga-api/internal/storage"
	"github.com/phrazzld/manga-api/internal/store"
)

// PanelRegenerationTask implements the Task interface for rendering a new
// version of one panel. The original panel row is never modified.
type PanelRegenerationTask struct {
	id      uuid.UUID
	payload events.PanelRegenerationPayload
	p       *Pipeline
	logger  *slog.Logger
	status  TaskStatus
}

// NewPanelRegenerationTask creates a regeneration job.
func NewPanelRegenerationTask(
	id uuid.UUID,
	payload events.PanelRegenerationPayload,
	p *Pipeline,
) (*PanelRegenerationTask, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if payload.TaskID == uuid.Nil || payload.RegeneratedPanelID == uuid.Nil {
		return nil, ErrEmptyTaskID
	}
	if payload.PanelNumber < 1 {
		return nil, fmt.Errorf("%w: panel number %d", ErrInvalidJob, payload.PanelNumber)
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &PanelRegenerationTask{
		id:      id,
		payload: payload,
		p:       p,
		logger: p.logger().With(
			"job_type", TaskTypePanelRegeneration,
			"task_id", payload.TaskID,
			"panel_number", payload.PanelNumber,
			"regenerated_panel_id", payload.RegeneratedPanelID,
		),
		status: TaskStatusPending,
	}, nil
}

// ID returns the job's unique identifier
func (t *PanelRegenerationTask) ID() uuid.UUID { return t.id }

// Type returns the job type identifier
func (t *PanelRegenerationTask) Type() string { return TaskTypePanelRegeneration }

// Payload returns the job data as JSON
func (t *PanelRegenerationTask) Payload() []byte {
	data, err := json.Marshal(t.payload)
	if err != nil {
		t.logger.Error("failed to marshal task payload", "error", err)
		return []byte{}
	}
	return data
}

// Status returns the current job status
func (t *PanelRegenerationTask) Status() TaskStatus { return t.status }

// Execute renders the regenerated panel. The uploaded reference image, if
// any, is deleted when the job ends; an interrupted job keeps it for the
// redelivered attempt.
func (t *PanelRegenerationTask) Execute(ctx context.Context) error {
	t.status = TaskStatusProcessing
	defer func() {
		if !interrupted(ctx) {
			t.cleanupReference(ctx)
		}
	}()

	panel, err := t.p.Panels.GetByID(ctx, t.payload.RegeneratedPanelID)
	if errors.Is(err, store.ErrPanelNotFound) {
		t.logger.Warn("regenerated panel no longer exists, skipping")
		t.status = TaskStatusCompleted
		return nil
	}
	if err != nil {
		t.status = TaskStatusFailed
		return fmt.Errorf("failed to load regenerated panel: %w", err)
	}
	if panel.Status == domain.PanelStatusCompleted {
		t.logger.Info("panel already regenerated, skipping")
		t.status = TaskStatusCompleted
		return nil
	}

	task, err := t.p.Tasks.GetByID(ctx, t.payload.TaskID)
	if err != nil {
		t.status = TaskStatusFailed
		return fmt.Errorf("failed to load task: %w", err)
	}
	sessionID := t.payload.SessionID
	if sessionID == "" {
		sessionID = task.SessionID
	}

	if err := t.regenerate(ctx, task, panel, sessionID); err != nil {
		t.status = TaskStatusFailed
		if interrupted(ctx) {
			t.logger.Warn("panel regeneration interrupted", "error", err)
			return err
		}
		t.fail(ctx, panel, sessionID, err)
		return err
	}
	t.status = TaskStatusCompleted
	return nil
}

func (t *PanelRegenerationTask) regenerate(
	ctx context.Context,
	task *domain.MangaTask,
	panel *domain.Panel,
	sessionID string,
) error {
	if err := t.p.updatePanel(ctx, panel, domain.PanelStatusRegenerating); err != nil {
		return fmt.Errorf("failed to mark panel regenerating: %w", err)
	}
	t.p.publish(ctx, sessionID, t.update(progress.StatusRegenerating, "Regenerating panel"))

	prompt, err := generation.BuildRegenerationPrompt(
		panel.SceneDescription, t.payload.ModificationRequest, task.Parameters.Style, panel.PanelNumber == 1)
	if err != nil {
		return err
	}

	ref := t.reference(ctx)

	session, err := t.p.Images.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to open image session: %w", err)
	}
	img, err := session.Generate(ctx, prompt, ref)
	if err != nil {
		return err
	}

	key := storage.RegeneratedPanelKey(task.ID, panel.PanelNumber, panel.ID)
	url, err := t.p.upload(ctx, key, img.Data)
	if err != nil {
		return err
	}

	panel.MarkCompleted(url, key)
	if err := t.p.Panels.Update(ctx, panel); err != nil {
		return fmt.Errorf("failed to save regenerated panel: %w", err)
	}

	update := t.update(progress.StatusPanelRegenerated, "Panel regenerated")
	update.ImageURL = url
	update.Version = panel.Version
	t.p.publish(ctx, sessionID, update)

	t.logger.Info("panel regenerated", "version", panel.Version, "key", key, "with_reference", ref != nil)
	return nil
}

// reference picks the visual reference for the new rendering: the user's
// upload, then the latest rendering of the panel, then none.
func (t *PanelRegenerationTask) reference(ctx context.Context) *generation.ReferenceImage {
	if key := t.payload.ReferenceImageKey; key != "" {
		data, err := t.p.Storage.Download(ctx, key)
		if err == nil {
			return &generation.ReferenceImage{Data: data, MIMEType: storage.ContentTypeFor(key)}
		}
		t.logger.Warn("failed to load uploaded reference image", "key", key, "error", err)
	}

	latest, err := t.p.Panels.GetLatestRendering(ctx, t.payload.TaskID, t.payload.PanelNumber)
	if err != nil {
		if !errors.Is(err, store.ErrPanelNotFound) {
			t.logger.Warn("failed to find latest rendering", "error", err)
		}
		return nil
	}
	if latest.ImagePath == nil || *latest.ImagePath == "" {
		return nil
	}

	data, err := t.p.Storage.Download(ctx, *latest.ImagePath)
	if err != nil {
		t.logger.Warn("failed to load latest rendering", "key", *latest.ImagePath, "error", err)
		return nil
	}
	return &generation.ReferenceImage{Data: data, MIMEType: storage.ContentTypeFor(*latest.ImagePath)}
}

func (t *PanelRegenerationTask) fail(ctx context.Context, panel *domain.Panel, sessionID string, err error) {
	t.logger.Error("panel regeneration failed", "error", err)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if uerr := t.p.updatePanel(writeCtx, panel, domain.PanelStatusFailed); uerr != nil {
		t.logger.Error("failed to mark regenerated panel failed", "error", uerr)
	}

	update := t.update(progress.StatusRegenerationFailed, "Panel regeneration failed")
	update.Error = generation.FriendlyMessage(err)
	t.p.publish(writeCtx, sessionID, update)
}

func (t *PanelRegenerationTask) cleanupReference(ctx context.Context) {
	key := t.payload.ReferenceImageKey
	if key == "" {
		return
	}
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := t.p.Storage.Delete(delCtx, key); err != nil {
		t.logger.Warn("failed to delete reference image", "key", key, "error", err)
	}
}

func (t *PanelRegenerationTask) update(status, message string) progress.Update {
	return progress.Update{
		TaskID:             t.payload.TaskID.String(),
		Status:             status,
		Message:            message,
		PanelNumber:        t.payload.PanelNumber,
		RegeneratedPanelID: t.payload.RegeneratedPanelID.String(),
	}
}

// PanelRegenerationTaskFactory creates PanelRegenerationTask instances
type PanelRegenerationTaskFactory struct {
	p *Pipeline
}

// NewPanelRegenerationTaskFactory creates a new factory for PanelRegenerationTasks
func NewPanelRegenerationTaskFactory(p *Pipeline) (*PanelRegenerationTaskFactory, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &PanelRegenerationTaskFactory{p: p}, nil
}

// CreateTask builds a job from its persisted payload. It satisfies Factory.
func (f *PanelRegenerationTaskFactory) CreateTask(id uuid.UUID, payload []byte) (Task, error) {
	var data events.PanelRegenerationPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return NewPanelRegenerationTask(id, data, f.p)
}
