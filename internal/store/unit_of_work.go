package store

import (
	"context"
	"database/sql"
)

// Stores bundles the stores a pipeline step touches together.
type Stores struct {
	Tasks    MangaTaskStore
	Panels   PanelStore
	Sessions SessionStore
}

// UnitOfWork runs a function with stores bound to a single transaction.
type UnitOfWork interface {
	// Do runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; fn's error is returned unchanged.
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// SQLUnitOfWork implements UnitOfWork with RunInTransaction.
type SQLUnitOfWork struct {
	db     *sql.DB
	stores Stores
}

// NewSQLUnitOfWork creates a UnitOfWork whose transactions are opened on db
// and handed to the WithTx variants of stores.
func NewSQLUnitOfWork(db *sql.DB, stores Stores) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db, stores: stores}
}

var _ UnitOfWork = (*SQLUnitOfWork)(nil)

// Do implements UnitOfWork.
func (u *SQLUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	return RunInTransaction(ctx, u.db, func(ctx context.Context, tx *sql.Tx) error {
		bound := Stores{}
		if u.stores.Tasks != nil {
			bound.Tasks = u.stores.Tasks.WithTx(tx)
		}
		if u.stores.Panels != nil {
			bound.Panels = u.stores.Panels.WithTx(tx)
		}
		if u.stores.Sessions != nil {
			bound.Sessions = u.stores.Sessions.WithTx(tx)
		}
		return fn(ctx, bound)
	})
}
