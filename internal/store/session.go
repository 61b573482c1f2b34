package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/phrazzld/manga-api/internal/domain"
)

// SessionStore defines the interface for client session persistence.
// Version: 1.0
type SessionStore interface {
	// Touch creates the session if it does not exist and refreshes its
	// last activity time otherwise.
	Touch(ctx context.Context, id string) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if the session does not exist.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// DeleteInactiveBefore removes sessions whose last activity precedes cutoff.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx returns a new SessionStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) SessionStore
}
