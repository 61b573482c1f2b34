package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresPanelStore_CreateBatch(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresPanelStore(db, discardLogger())

	taskID := uuid.New()
	p1, err := domain.NewPanel(taskID, 1, "A courier at the flooded gate")
	require.NoError(t, err)
	p2, err := domain.NewPanel(taskID, 2, "The letter handed over at dawn")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO manga_panels").
		WithArgs(p1.ID, taskID, 1, p1.SceneDescription, nil, nil, 1, "PENDING",
			sqlmock.AnyArg(), nil, nil, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO manga_panels").
		WithArgs(p2.ID, taskID, 2, p2.SceneDescription, nil, nil, 1, "PENDING",
			sqlmock.AnyArg(), nil, nil, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CreateBatch(context.Background(), []*domain.Panel{p1, p2}))
	assert.NoError(t, s.CreateBatch(context.Background(), nil))
}

func TestPostgresPanelStore_CreateRegenerated(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresPanelStore(db, discardLogger())

	original, err := domain.NewPanel(uuid.New(), 2, "scene")
	require.NoError(t, err)
	regen, err := domain.NewRegeneratedPanel(original, "make it rain", 2)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO manga_panels").
		WithArgs(regen.ID, original.TaskID, 2, "scene", nil, nil, 2, "PENDING",
			sqlmock.AnyArg(), original.ID, "make it rain", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), regen))
}

func TestPostgresPanelStore_GetOriginal(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresPanelStore(db, discardLogger())

	taskID, panelID := uuid.New(), uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("task_id = $1 AND panel_number = $2 AND is_regenerated = false")).
		WithArgs(taskID, 2).
		WillReturnRows(sqlmock.NewRows(columnList(panelColumns)).AddRow(
			panelID.String(), taskID.String(), 2, "scene", "http://x/p.png", "tasks/p.png",
			1, "COMPLETED", time.Now(), nil, nil, false))

	got, err := s.GetOriginal(context.Background(), taskID, 2)
	require.NoError(t, err)
	assert.Equal(t, panelID, got.ID)
	require.NotNil(t, got.ImageURL)
	assert.Equal(t, "http://x/p.png", *got.ImageURL)
	assert.Nil(t, got.OriginalPanelID)
	assert.False(t, got.IsRegenerated)
}

func TestPostgresPanelStore_GetLatestRenderingNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresPanelStore(db, discardLogger())

	taskID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("AND status = $3")).
		WithArgs(taskID, 1, "COMPLETED").
		WillReturnRows(sqlmock.NewRows(columnList(panelColumns)))

	_, err := s.GetLatestRendering(context.Background(), taskID, 1)
	assert.ErrorIs(t, err, store.ErrPanelNotFound)
}

func TestPostgresPanelStore_ListByTask(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresPanelStore(db, discardLogger())

	taskID, originalID := uuid.New(), uuid.New()
	rows := sqlmock.NewRows(columnList(panelColumns)).
		AddRow(originalID.String(), taskID.String(), 1, "scene", nil, nil, 1, "FAILED", time.Now(), nil, nil, false).
		AddRow(uuid.NewString(), taskID.String(), 1, "scene", "u", "p", 2, "COMPLETED", time.Now(),
			originalID.String(), "brighter", true)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY panel_number ASC, created_at ASC")).
		WithArgs(taskID).
		WillReturnRows(rows)

	panels, err := s.ListByTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, panels, 2)
	assert.Equal(t, domain.PanelStatusFailed, panels[0].Status)
	assert.Nil(t, panels[0].ImageURL)
	require.NotNil(t, panels[1].OriginalPanelID)
	assert.Equal(t, originalID, *panels[1].OriginalPanelID)
	assert.Equal(t, "brighter", *panels[1].RegenerationRequest)
}

func TestPostgresPanelStore_CountRegenerations(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresPanelStore(db, discardLogger())

	originalID := uuid.New()
	mock.ExpectQuery("original_panel_id = \\$1").
		WithArgs(originalID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM manga_panels").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	n, err := s.CountRegenerations(context.Background(), originalID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 11, total)
}

func TestPostgresPanelStore_Update(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresPanelStore(db, discardLogger())

	panel, err := domain.NewPanel(uuid.New(), 1, "scene")
	require.NoError(t, err)
	panel.MarkCompleted("http://cdn/tasks/x/panel_1.png", "tasks/x/panel_1.png")

	mock.ExpectExec("UPDATE manga_panels").
		WithArgs("COMPLETED", "http://cdn/tasks/x/panel_1.png", "tasks/x/panel_1.png", panel.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE manga_panels").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Update(context.Background(), panel))
	assert.ErrorIs(t, s.Update(context.Background(), panel), store.ErrPanelNotFound)
}
