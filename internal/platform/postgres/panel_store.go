package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/store"
)

const panelColumns = `id, task_id, panel_number, scene_description, image_url, image_path,
	version, status, created_at, original_panel_id, regeneration_request, is_regenerated`

// PostgresPanelStore implements the store.PanelStore interface
// using a PostgreSQL database as the storage backend.
type PostgresPanelStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresPanelStore creates a new PostgreSQL implementation of the PanelStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresPanelStore(db store.DBTX, logger *slog.Logger) *PostgresPanelStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresPanelStore{
		db:     db,
		logger: logger.With(slog.String("component", "panel_store")),
	}
}

// Ensure PostgresPanelStore implements store.PanelStore interface
var _ store.PanelStore = (*PostgresPanelStore)(nil)

// WithTx returns a store that runs its statements on tx.
func (s *PostgresPanelStore) WithTx(tx *sql.Tx) store.PanelStore {
	return &PostgresPanelStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.PanelStore.Create
func (s *PostgresPanelStore) Create(ctx context.Context, panel *domain.Panel) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := panel.Validate(); err != nil {
		log.Warn("panel validation failed during create",
			slog.String("error", err.Error()),
			slog.String("panel_id", panel.ID.String()))
		return err
	}
	if panel.CreatedAt.IsZero() {
		panel.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO manga_panels (` + panelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		panel.ID,
		panel.TaskID,
		panel.PanelNumber,
		panel.SceneDescription,
		panel.ImageURL,
		panel.ImagePath,
		panel.Version,
		string(panel.Status),
		panel.CreatedAt,
		panel.OriginalPanelID,
		panel.RegenerationRequest,
		panel.IsRegenerated,
	)
	if err != nil {
		log.Error("failed to create panel",
			slog.String("error", err.Error()),
			slog.String("panel_id", panel.ID.String()),
			slog.String("task_id", panel.TaskID.String()))
		return MapError(err)
	}
	return nil
}

// CreateBatch implements store.PanelStore.CreateBatch
func (s *PostgresPanelStore) CreateBatch(ctx context.Context, panels []*domain.Panel) error {
	if len(panels) == 0 {
		return nil
	}
	log := logger.FromContextOrDefault(ctx, s.logger)

	for _, panel := range panels {
		if err := s.Create(ctx, panel); err != nil {
			return err
		}
	}

	log.Debug("panels created",
		slog.String("task_id", panels[0].TaskID.String()),
		slog.Int("count", len(panels)))
	return nil
}

// GetByID implements store.PanelStore.GetByID
func (s *PostgresPanelStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Panel, error) {
	query := `SELECT ` + panelColumns + ` FROM manga_panels WHERE id = $1`
	return s.getOne(ctx, query, id)
}

// GetOriginal implements store.PanelStore.GetOriginal
func (s *PostgresPanelStore) GetOriginal(ctx context.Context, taskID uuid.UUID, panelNumber int) (*domain.Panel, error) {
	query := `SELECT ` + panelColumns + `
		FROM manga_panels
		WHERE task_id = $1 AND panel_number = $2 AND is_regenerated = false
		ORDER BY created_at ASC
		LIMIT 1`
	return s.getOne(ctx, query, taskID, panelNumber)
}

// GetLatestRendering implements store.PanelStore.GetLatestRendering
func (s *PostgresPanelStore) GetLatestRendering(
	ctx context.Context,
	taskID uuid.UUID,
	panelNumber int,
) (*domain.Panel, error) {
	query := `SELECT ` + panelColumns + `
		FROM manga_panels
		WHERE task_id = $1 AND panel_number = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1`
	return s.getOne(ctx, query, taskID, panelNumber, string(domain.PanelStatusCompleted))
}

func (s *PostgresPanelStore) getOne(ctx context.Context, query string, args ...any) (*domain.Panel, error) {
	panel, err := scanPanel(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrPanelNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get panel",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return panel, nil
}

// ListByTask implements store.PanelStore.ListByTask
func (s *PostgresPanelStore) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Panel, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + panelColumns + `
		FROM manga_panels
		WHERE task_id = $1
		ORDER BY panel_number ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		log.Error("failed to list panels",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	panels := make([]*domain.Panel, 0)
	for rows.Next() {
		panel, err := scanPanel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan panel row: %w", err)
		}
		panels = append(panels, panel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating panel rows: %w", err)
	}
	return panels, nil
}

// CountRegenerations implements store.PanelStore.CountRegenerations
func (s *PostgresPanelStore) CountRegenerations(ctx context.Context, originalID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM manga_panels WHERE original_panel_id = $1 AND is_regenerated = true`,
		originalID).Scan(&n)
	if err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

// Update implements store.PanelStore.Update
func (s *PostgresPanelStore) Update(ctx context.Context, panel *domain.Panel) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := panel.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE manga_panels
		SET status = $1, image_url = $2, image_path = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query,
		string(panel.Status),
		panel.ImageURL,
		panel.ImagePath,
		panel.ID,
	)
	if err != nil {
		log.Error("failed to update panel",
			slog.String("error", err.Error()),
			slog.String("panel_id", panel.ID.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "panel"); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrPanelNotFound
		}
		return err
	}
	return nil
}

// Count implements store.PanelStore.Count
func (s *PostgresPanelStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM manga_panels`).Scan(&n); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

func scanPanel(row rowScanner) (*domain.Panel, error) {
	var (
		panel      domain.Panel
		status     string
		imageURL   sql.NullString
		imagePath  sql.NullString
		originalID uuid.NullUUID
		request    sql.NullString
	)
	err := row.Scan(
		&panel.ID,
		&panel.TaskID,
		&panel.PanelNumber,
		&panel.SceneDescription,
		&imageURL,
		&imagePath,
		&panel.Version,
		&status,
		&panel.CreatedAt,
		&originalID,
		&request,
		&panel.IsRegenerated,
	)
	if err != nil {
		return nil, err
	}

	panel.Status = domain.PanelStatus(status)
	if imageURL.Valid {
		panel.ImageURL = &imageURL.String
	}
	if imagePath.Valid {
		panel.ImagePath = &imagePath.String
	}
	if originalID.Valid {
		panel.OriginalPanelID = &originalID.UUID
	}
	if request.Valid {
		panel.RegenerationRequest = &request.String
	}
	return &panel, nil
}
