package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/manga-api/internal/domain"
	"github.com/phrazzld/manga-api/internal/store"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
)

// MapError translates driver errors into store sentinels. sql.ErrNoRows
// becomes store.ErrNotFound, a unique violation store.ErrDuplicate, and
// the remaining integrity violations a *store.StoreError wrapping
// store.ErrInvalidEntity. The original error stays in the chain; anything
// else is returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolationCode:
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	case foreignKeyViolationCode:
		return violation(pgErr, "foreign key violation on "+pgErr.ConstraintName, err)
	case checkViolationCode:
		return violation(pgErr, "check constraint violation on "+pgErr.ConstraintName, err)
	case notNullViolationCode:
		return violation(pgErr, "null value in column "+pgErr.ColumnName, err)
	}
	return err
}

func violation(pgErr *pgconn.PgError, msg string, err error) error {
	return store.NewStoreError(pgErr.TableName, "write", msg, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err))
}

// IsNotFoundError checks if the given error represents a "not found" scenario.
// This handles both sql.ErrNoRows and errors that are or wrap store.ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, store.ErrNotFound)
}

// CheckRowsAffected examines the number of rows affected by a database operation.
// If no rows were affected, it returns store.ErrNotFound.
// This is useful for UPDATE and DELETE operations where the absence of affected rows
// typically indicates that the target record doesn't exist.
func CheckRowsAffected(result sql.Result, entityName string) error {
	if result == nil {
		return fmt.Errorf("nil result provided to CheckRowsAffected")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if entityName == "" {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %s not found", store.ErrNotFound, entityName)
	}

	return nil
}

// statusPlaceholders renders "$n, $n+1, ..." for statuses starting at index
// start, returning the SQL fragment and the matching arguments.
func statusPlaceholders(statuses []domain.TaskStatus, start int) (string, []any) {
	parts := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		parts[i] = fmt.Sprintf("$%d", start+i)
		args[i] = string(st)
	}
	return strings.Join(parts, ", "), args
}
