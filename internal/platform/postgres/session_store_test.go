package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSessionStore_Touch(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresSessionStore(db, discardLogger())

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE SET last_activity = EXCLUDED.last_activity")).
		WithArgs("session-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Touch(context.Background(), "session-1"))
	assert.ErrorIs(t, s.Touch(context.Background(), "  "), domain.ErrEmptySessionID)
}

func TestPostgresSessionStore_Get(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresSessionStore(db, discardLogger())

	now := time.Now().UTC()
	mock.ExpectQuery("FROM user_sessions WHERE id = \\$1").
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "last_activity", "session_metadata"}).
			AddRow("session-1", now, now, []byte(`{"client":"web"}`)))
	mock.ExpectQuery("FROM user_sessions WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "last_activity", "session_metadata"}))

	got, err := s.Get(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "web", got.Metadata["client"])

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestPostgresSessionStore_DeleteInactiveBefore(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresSessionStore(db, discardLogger())

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_sessions WHERE last_activity < $1")).
		WithArgs(cutoff.UTC()).
		WillReturnResult(sqlmock.NewResult(0, 6))

	n, err := s.DeleteInactiveBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
}
