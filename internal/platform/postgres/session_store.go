package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/platform/logger"
	"github.com/phrazzld/manga-api/internal/store"
)

// PostgresSessionStore implements the store.SessionStore interface
// using a PostgreSQL database as the storage backend.
type PostgresSessionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSessionStore creates a new PostgreSQL implementation of the SessionStore interface.
func NewPostgresSessionStore(db store.DBTX, logger *slog.Logger) *PostgresSessionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSessionStore{
		db:     db,
		logger: logger.With(slog.String("component", "session_store")),
	}
}

// Ensure PostgresSessionStore implements store.SessionStore interface
var _ store.SessionStore = (*PostgresSessionStore)(nil)

// WithTx returns a store that runs its statements on tx.
func (s *PostgresSessionStore) WithTx(tx *sql.Tx) store.SessionStore {
	return &PostgresSessionStore{db: tx, logger: s.logger}
}

// Touch implements store.SessionStore.Touch
func (s *PostgresSessionStore) Touch(ctx context.Context, id string) error {
	if err := domain.ValidateSessionID(id); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO user_sessions (id, created_at, last_activity, session_metadata)
		VALUES ($1, $2, $2, '{}'::jsonb)
		ON CONFLICT (id) DO UPDATE SET last_activity = EXCLUDED.last_activity
	`
	if _, err := s.db.ExecContext(ctx, query, id, now); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to touch session",
			slog.String("error", err.Error()),
			slog.String("session_id", id))
		return MapError(err)
	}
	return nil
}

// Get implements store.SessionStore.Get
func (s *PostgresSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	var (
		session  domain.Session
		metadata []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, last_activity, session_metadata FROM user_sessions WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.CreatedAt, &session.LastActivity, &metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, MapError(err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	return &session, nil
}

// DeleteInactiveBefore implements store.SessionStore.DeleteInactiveBefore
func (s *PostgresSessionStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE last_activity < $1`, cutoff.UTC())
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to delete inactive sessions",
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}
	return result.RowsAffected()
}
