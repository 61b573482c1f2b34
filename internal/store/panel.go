package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
)

// PanelStore defines the interface for panel persistence.
// Panels are append-only with respect to regeneration: a regeneration is a
// new row, never an update of the original.
// Version: 1.0
type PanelStore interface {
	// Create saves a single panel.
	Create(ctx context.Context, panel *domain.Panel) error

	// CreateBatch saves several panels in one round of statements.
	// Callers wanting atomicity run it inside a transaction.
	CreateBatch(ctx context.Context, panels []*domain.Panel) error

	// GetByID retrieves a panel by ID.
	// Returns ErrPanelNotFound if the panel does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Panel, error)

	// GetOriginal returns the non-regenerated panel with the given number.
	// Returns ErrPanelNotFound if there is none.
	GetOriginal(ctx context.Context, taskID uuid.UUID, panelNumber int) (*domain.Panel, error)

	// GetLatestRendering returns the most recent COMPLETED panel with the
	// given number, original or regenerated.
	// Returns ErrPanelNotFound if no rendering exists yet.
	GetLatestRendering(ctx context.Context, taskID uuid.UUID, panelNumber int) (*domain.Panel, error)

	// ListByTask returns all panels of a task ordered by panel number and creation time.
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Panel, error)

	// CountRegenerations returns the number of regenerated rows linked to originalID.
	CountRegenerations(ctx context.Context, originalID uuid.UUID) (int, error)

	// Update writes the mutable fields (status, image location) of a panel.
	// Returns ErrPanelNotFound if the panel does not exist.
	Update(ctx context.Context, panel *domain.Panel) error

	// Count returns the total number of panel rows.
	Count(ctx context.Context) (int64, error)

	// WithTx returns a new PanelStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) PanelStore
}
