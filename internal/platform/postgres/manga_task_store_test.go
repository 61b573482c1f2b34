package postgres

import (
	"context"
	"database/sql"
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

func taskRow(task *domain.MangaTask) *sqlmock.Rows {
	return sqlmock.NewRows(columnList(taskColumns)).AddRow(
		task.ID.String(),
		task.SessionID,
		string(task.Status),
		task.StoryText,
		[]byte(`{"num_scenes":3,"style":{"art_style":"ink"}}`),
		task.Progress,
		task.TotalPanels,
		task.CurrentPanel,
		nil,
		task.CreatedAt,
		task.UpdatedAt,
		nil,
	)
}

func TestPostgresMangaTaskStore_Create(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	task, err := domain.NewMangaTask("session-1", testStory, 3, domain.StyleParameters{"art_style": "ink"})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO manga_tasks").
		WithArgs(task.ID, "session-1", "PENDING", task.StoryText, sqlmock.AnyArg(),
			0, 3, 0, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), task))
	assert.False(t, task.CreatedAt.IsZero())
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
}

func TestPostgresMangaTaskStore_CreateRejectsInvalidTask(t *testing.T) {
	db, _ := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	task := &domain.MangaTask{ID: uuid.New(), SessionID: "s", StoryText: "short", Status: domain.TaskStatusPending}
	err := s.Create(context.Background(), task)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPostgresMangaTaskStore_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	now := time.Now().UTC()
	want := &domain.MangaTask{
		ID:           uuid.New(),
		SessionID:    "session-1",
		Status:       domain.TaskStatusImageGeneration,
		StoryText:    testStory,
		Progress:     43,
		TotalPanels:  3,
		CurrentPanel: 2,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM manga_tasks WHERE id = $1")).
		WithArgs(want.ID).
		WillReturnRows(taskRow(want))

	got, err := s.GetByID(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, domain.TaskStatusImageGeneration, got.Status)
	assert.Equal(t, 3, got.Parameters.NumScenes)
	assert.Equal(t, "ink", got.Parameters.Style["art_style"])
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.CompletedAt)
}

func TestPostgresMangaTaskStore_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	mock.ExpectQuery("FROM manga_tasks").WillReturnRows(sqlmock.NewRows(columnList(taskColumns)))

	_, err := s.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestPostgresMangaTaskStore_GetByIDForUpdateLocksRow(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(columnList(taskColumns)))

	_, err := s.GetByIDForUpdate(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestPostgresMangaTaskStore_Update(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresMangaTaskStore(db, discardLogger())

		task := &domain.MangaTask{ID: uuid.New(), Status: domain.TaskStatusSceneGeneration, Progress: 10}
		mock.ExpectExec("UPDATE manga_tasks").
			WithArgs("SCENE_GENERATION", 10, 0, 0, nil, sqlmock.AnyArg(), nil, task.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Update(context.Background(), task))
		assert.False(t, task.UpdatedAt.IsZero())
	})

	t.Run("missing task", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewPostgresMangaTaskStore(db, discardLogger())

		mock.ExpectExec("UPDATE manga_tasks").WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.Update(context.Background(), &domain.MangaTask{ID: uuid.New(), Status: domain.TaskStatusFailed})
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestPostgresMangaTaskStore_FailStale(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	stale := &domain.MangaTask{
		ID:        uuid.New(),
		SessionID: "session-1",
		Status:    domain.TaskStatusFailed,
		StoryText: testStory,
		CreatedAt: time.Now().Add(-2 * time.Hour),
		UpdatedAt: time.Now(),
	}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ($4, $5, $6) AND updated_at < $7")).
		WithArgs("FAILED", "Task timed out", sqlmock.AnyArg(),
			"PROCESSING", "SCENE_GENERATION", "IMAGE_GENERATION", sqlmock.AnyArg()).
		WillReturnRows(taskRow(stale))

	got, err := s.FailStale(context.Background(), domain.ActiveTaskStatuses, time.Hour, "Task timed out")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
}

func TestPostgresMangaTaskStore_FailStaleWithoutStatuses(t *testing.T) {
	db, _ := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	got, err := s.FailStale(context.Background(), nil, time.Hour, "Task timed out")
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestPostgresMangaTaskStore_DeleteFinishedBefore(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM manga_tasks WHERE status IN ($1, $2, $3) AND created_at < $4")).
		WithArgs("COMPLETED", "FAILED", "CANCELLED", cutoff.UTC()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.DeleteFinishedBefore(context.Background(), domain.FinishedTaskStatuses, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestPostgresMangaTaskStore_Counts(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("COMPLETED", 5).
			AddRow("FAILED", 2))
	mock.ExpectQuery(regexp.QuoteMeta("created_at >= $1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	counts, err := s.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[domain.TaskStatus]int64{
		domain.TaskStatusCompleted: 5,
		domain.TaskStatusFailed:    2,
	}, counts)

	recent, err := s.CountCreatedSince(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, recent)
}

func TestPostgresMangaTaskStore_WithTx(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresMangaTaskStore(db, discardLogger())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE manga_tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunInTransaction(context.Background(), s.DB(), func(ctx context.Context, tx *sql.Tx) error {
		return s.WithTx(tx).Update(ctx, &domain.MangaTask{ID: uuid.New(), Status: domain.TaskStatusCancelled})
	})
	assert.NoError(t, err)
	assert.Same(t, db, s.DB())
}
