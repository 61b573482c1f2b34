package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/generation"
	"github.com/phrazzld/manga-api/internal/progress"
	"github.com/phrazzld/manga-api/internal/storage"
	"github.com/phrazzld/manga-api/internal/store"
)

// Common errors
var (
	ErrNilDependency = errors.New("pipeline dependency cannot be nil")
	ErrEmptyTaskID   = errors.New("task ID cannot be empty")
	ErrInvalidJob    = errors.New("invalid job payload")

	// errCancelled stops a pipeline that observed a user cancellation.
	errCancelled = errors.New("task cancelled")
)

// Pipeline holds the collaborators shared by the manga jobs.
type Pipeline struct {
	Tx        store.UnitOfWork
	Tasks     store.MangaTaskStore
	Panels    store.PanelStore
	Splitter  generation.SceneSplitter
	Images    generation.ImageGenerator
	Storage   storage.Storage
	Publisher progress.Publisher
	Logger    *slog.Logger
}

// Validate reports the first missing dependency.
func (p *Pipeline) Validate() error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: pipeline", ErrNilDependency)
	case p.Tx == nil:
		return fmt.Errorf("%w: unit of work", ErrNilDependency)
	case p.Tasks == nil:
		return fmt.Errorf("%w: task store", ErrNilDependency)
	case p.Panels == nil:
		return fmt.Errorf("%w: panel store", ErrNilDependency)
	case p.Splitter == nil:
		return fmt.Errorf("%w: scene splitter", ErrNilDependency)
	case p.Images == nil:
		return fmt.Errorf("%w: image generator", ErrNilDependency)
	case p.Storage == nil:
		return fmt.Errorf("%w: storage", ErrNilDependency)
	case p.Publisher == nil:
		return fmt.Errorf("%w: publisher", ErrNilDependency)
	}
	return nil
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// upload stores a rendered panel under key.
func (p *Pipeline) upload(ctx context.Context, key string, data []byte) (string, error) {
	url, err := p.Storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), storage.ContentTypeFor(key))
	if err != nil {
		return "", fmt.Errorf("failed to store panel image: %w", err)
	}
	return url, nil
}

// transition applies fn to the locked task row and writes it back in one
// transaction. fn is not called once the row is terminal: a cancelled row
// yields errCancelled and a completed or failed one ErrTaskTerminal.
func (p *Pipeline) transition(
	ctx context.Context,
	taskID uuid.UUID,
	fn func(task *domain.MangaTask) error,
) (*domain.MangaTask, error) {
	var out *domain.MangaTask
	err := p.Tx.Do(ctx, func(ctx context.Context, s store.Stores) error {
		task, err := s.Tasks.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		out = task
		if err := checkLive(task); err != nil {
			return err
		}
		if err := fn(task); err != nil {
			return err
		}
		return s.Tasks.Update(ctx, task)
	})
	return out, err
}

// checkLive refuses work on a task that reached a terminal state.
func checkLive(task *domain.MangaTask) error {
	switch {
	case task.Status == domain.TaskStatusCancelled:
		return errCancelled
	case task.Status.IsTerminal():
		return fmt.Errorf("%w: %s", domain.ErrTaskTerminal, task.Status)
	}
	return nil
}

// publish sends update to the task's session. Delivery is best effort.
func (p *Pipeline) publish(ctx context.Context, sessionID string, update progress.Update) {
	if err := p.Publisher.Publish(ctx, sessionID, update); err != nil {
		p.logger().Warn("failed to publish progress",
			"task_id", update.TaskID,
			"status", update.Status,
			"error", err)
	}
}

func (p *Pipeline) updatePanel(ctx context.Context, panel *domain.Panel, status domain.PanelStatus) error {
	panel.Status = status
	return p.Panels.Update(ctx, panel)
}
