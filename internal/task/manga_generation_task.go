package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/events"
	"github.com/phrazzld/manga-api/internal/generation"
	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/phrazzld/manga-api/internal/storage"
	"github.com/phrazzld/manga-api/internal/store"
)

// failureWriteTimeout bounds the final FAILED write, which runs even after
// the job's own context has expired.
const failureWriteTimeout = 10 * time.Second

// MangaGenerationTask implements the Task interface for turning a story
// into rendered panels.
type MangaGenerationTask struct {
	id     uuid.UUID
	taskID uuid.UUID
	p      *Pipeline
	logger *slog.Logger
	status TaskStatus
}

// NewMangaGenerationTask creates the job that generates the panels of taskID.
func NewMangaGenerationTask(id, taskID uuid.UUID, p *Pipeline) (*MangaGenerationTask, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if taskID == uuid.Nil {
		return nil, ErrEmptyTaskID
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &MangaGenerationTask{
		id:     id,
		taskID: taskID,
		p:      p,
		logger: p.logger().With("job_type", TaskTypeMangaGeneration, "task_id", taskID, "job_id", id),
		status: TaskStatusPending,
	}, nil
}

// ID returns the job's unique identifier
func (t *MangaGenerationTask) ID() uuid.UUID { return t.id }

// Type returns the job type identifier
func (t *MangaGenerationTask) Type() string { return TaskTypeMangaGeneration }

// Payload returns the job data as JSON
func (t *MangaGenerationTask) Payload() []byte {
	data, err := json.Marshal(events.MangaGenerationPayload{TaskID: t.taskID})
	if err != nil {
		t.logger.Error("failed to marshal task payload", "error", err)
		return []byte{}
	}
	return data
}

// Status returns the current job status
func (t *MangaGenerationTask) Status() TaskStatus { return t.status }

// Execute runs the generation state machine for the task. A task that is
// already terminal, including one cancelled before pickup, is left alone.
func (t *MangaGenerationTask) Execute(ctx context.Context) error {
	t.status = TaskStatusProcessing

	task, err := t.p.Tasks.GetByID(ctx, t.taskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		t.logger.Warn("task no longer exists, skipping")
		t.status = TaskStatusCompleted
		return nil
	}
	if err != nil {
		t.status = TaskStatusFailed
		return fmt.Errorf("failed to load task: %w", err)
	}
	if task.Status.IsTerminal() {
		t.logger.Info("task already finished, skipping", "status", task.Status)
		t.status = TaskStatusCompleted
		return nil
	}

	t.logger.Info("starting manga generation", "num_scenes", task.Parameters.NumScenes)

	task, err = t.p.transition(ctx, t.taskID, func(mt *domain.MangaTask) error {
		if err := mt.SetStatus(domain.TaskStatusProcessing); err != nil {
			return err
		}
		mt.CurrentPanel = 0
		return nil
	})
	if err == nil {
		t.p.publish(ctx, task.SessionID, progress.TaskUpdate(task, "Task started"))
		err = t.run(ctx)
	}
	return t.finish(ctx, task, err)
}

func (t *MangaGenerationTask) run(ctx context.Context) error {
	task, err := t.p.transition(ctx, t.taskID, func(mt *domain.MangaTask) error {
		if err := mt.SetStatus(domain.TaskStatusSceneGeneration); err != nil {
			return err
		}
		mt.SetProgress(10)
		return nil
	})
	if err != nil {
		return err
	}
	t.p.publish(ctx, task.SessionID, progress.TaskUpdate(task, "Generating scenes"))

	task, panels, err := t.preparePanels(ctx, task)
	if err != nil {
		return err
	}

	session, err := t.p.Images.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to open image session: %w", err)
	}

	total := len(panels)
	summaries := make([]domain.PanelSummary, 0, total)
	for i, panel := range panels {
		task, err = t.p.transition(ctx, t.taskID, func(mt *domain.MangaTask) error {
			mt.CurrentPanel = i + 1
			mt.SetProgress(domain.PanelProgress(i, total))
			return nil
		})
		if err != nil {
			return err
		}
		t.p.publish(ctx, task.SessionID,
			progress.TaskUpdate(task, fmt.Sprintf("Generating panel %d of %d", i+1, total)))

		if panel.Status != domain.PanelStatusCompleted {
			if err := t.renderPanel(ctx, session, task, panel, i == 0); err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("panel %d: %w", panel.PanelNumber, ctx.Err())
				}
				t.logger.Error("panel generation failed",
					"panel_number", panel.PanelNumber,
					"error", err)
				if uerr := t.p.updatePanel(ctx, panel, domain.PanelStatusFailed); uerr != nil {
					t.logger.Error("failed to mark panel failed",
						"panel_number", panel.PanelNumber,
						"error", uerr)
				}
			}
		}
		summaries = append(summaries, panel.Summary())
	}

	task, err = t.p.transition(ctx, t.taskID, func(mt *domain.MangaTask) error {
		return mt.Complete(time.Now())
	})
	if err != nil {
		return err
	}

	update := progress.TaskUpdate(task, "Manga generation completed")
	update.Panels = summaries
	t.p.publish(ctx, task.SessionID, update)

	t.logger.Info("manga generation completed", "panels", total)
	return nil
}

// preparePanels returns the original panels of the task, splitting the
// story and persisting them on first run. A redelivered job reuses the
// panels of the earlier attempt.
func (t *MangaGenerationTask) preparePanels(
	ctx context.Context,
	task *domain.MangaTask,
) (*domain.MangaTask, []*domain.Panel, error) {
	existing, err := t.p.Panels.ListByTask(ctx, t.taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load panels: %w", err)
	}
	panels := make([]*domain.Panel, 0, len(existing))
	for _, p := range existing {
		if !p.IsRegenerated {
			panels = append(panels, p)
		}
	}

	created := len(panels) == 0
	if created {
		scenes, err := t.p.Splitter.Split(ctx, task.StoryText, task.Parameters.NumScenes)
		if err != nil {
			return nil, nil, fmt.Errorf("scene generation failed: %w", err)
		}
		scenes = generation.CleanScenes(scenes, task.Parameters.NumScenes)
		if len(scenes) == 0 {
			return nil, nil, generation.ErrNoScenes
		}
		for i, scene := range scenes {
			panel, err := domain.NewPanel(t.taskID, i+1, scene)
			if err != nil {
				return nil, nil, err
			}
			panels = append(panels, panel)
		}
		t.logger.Info("scenes generated", "count", len(scenes))
	} else {
		t.logger.Info("resuming with existing panels", "count", len(panels))
	}

	var out *domain.MangaTask
	err = t.p.Tx.Do(ctx, func(ctx context.Context, s store.Stores) error {
		locked, err := s.Tasks.GetByIDForUpdate(ctx, t.taskID)
		if err != nil {
			return err
		}
		out = locked
		if err := checkLive(locked); err != nil {
			return err
		}
		if created {
			if err := s.Panels.CreateBatch(ctx, panels); err != nil {
				return fmt.Errorf("failed to save panels: %w", err)
			}
		}
		locked.TotalPanels = len(panels)
		if err := locked.SetStatus(domain.TaskStatusImageGeneration); err != nil {
			return err
		}
		return s.Tasks.Update(ctx, locked)
	})
	if err != nil {
		return out, nil, err
	}
	return out, panels, nil
}

func (t *MangaGenerationTask) renderPanel(
	ctx context.Context,
	session generation.ImageSession,
	task *domain.MangaTask,
	panel *domain.Panel,
	isFirst bool,
) error {
	prompt, err := generation.BuildPanelPrompt(panel.SceneDescription, task.Parameters.Style, isFirst)
	if err != nil {
		return err
	}
	if err := t.p.updatePanel(ctx, panel, domain.PanelStatusProcessing); err != nil {
		return err
	}

	img, err := session.Generate(ctx, prompt, nil)
	if err != nil {
		return err
	}

	key := storage.PanelKey(task.ID, panel.PanelNumber)
	url, err := t.p.upload(ctx, key, img.Data)
	if err != nil {
		return err
	}

	panel.MarkCompleted(url, key)
	if err := t.p.Panels.Update(ctx, panel); err != nil {
		return err
	}
	t.logger.Debug("panel rendered", "panel_number", panel.PanelNumber, "key", key)
	return nil
}

// finish maps the outcome of a run to the job result.
func (t *MangaGenerationTask) finish(ctx context.Context, task *domain.MangaTask, err error) error {
	switch {
	case err == nil:
		t.status = TaskStatusCompleted
		return nil

	case errors.Is(err, errCancelled):
		t.logger.Info("task cancelled, stopping generation")
		if latest, gerr := t.p.Tasks.GetByID(ctx, t.taskID); gerr == nil {
			task = latest
		}
		if task != nil {
			t.p.publish(ctx, task.SessionID, progress.TaskUpdate(task, "Task cancelled"))
		}
		t.status = TaskStatusCompleted
		return nil

	case errors.Is(err, domain.ErrTaskTerminal):
		t.logger.Info("task finished elsewhere, stopping generation", "error", err)
		t.status = TaskStatusCompleted
		return nil

	case interrupted(ctx):
		// The row keeps its working status so a redelivered job resumes
		// from the panels already rendered.
		t.logger.Warn("manga generation interrupted", "error", err)
		t.status = TaskStatusFailed
		return err
	}

	t.status = TaskStatusFailed
	t.logger.Error("manga generation failed", "error", err)

	message := generation.FriendlyMessage(err)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	failed, ferr := t.p.transition(writeCtx, t.taskID, func(mt *domain.MangaTask) error {
		mt.Fail(message)
		return nil
	})
	switch {
	case ferr == nil:
		t.p.publish(writeCtx, failed.SessionID, progress.TaskUpdate(failed, "Task failed"))
	case errors.Is(ferr, errCancelled), errors.Is(ferr, domain.ErrTaskTerminal):
		// already final
	default:
		t.logger.Error("failed to record task failure", "error", ferr)
	}
	return err
}

// interrupted reports whether ctx was cancelled by its parent, as on
// shutdown, rather than by the hard time limit.
func interrupted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// MangaGenerationTaskFactory creates MangaGenerationTask instances
type MangaGenerationTaskFactory struct {
	p *Pipeline
}

// NewMangaGenerationTaskFactory creates a new factory for MangaGenerationTasks
func NewMangaGenerationTaskFactory(p *Pipeline) (*MangaGenerationTaskFactory, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &MangaGenerationTaskFactory{p: p}, nil
}

// CreateTask builds a job from its persisted payload. It satisfies Factory.
func (f *MangaGenerationTaskFactory) CreateTask(id uuid.UUID, payload []byte) (Task, error) {
	var data events.MangaGenerationPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return NewMangaGenerationTask(id, data.TaskID, f.p)
}
