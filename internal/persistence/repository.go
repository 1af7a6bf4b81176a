// Package persistence implements the pluggable SQLite/Postgres sink
// Provider Stat Records and circuit-breaker state are persisted to.
// Neither L7 affinity nor the L9 circuit breakers load these rows back
// at startup; both start from empty in-memory state.
//
// Grounded on the teacher's internal/database package: the generic
// DBQuerier/Repository/transaction-wrapper base below is adapted
// near-verbatim (it has no queue/media-specific content to begin with),
// while the domain-specific repositories (NZB import queue, media
// library, users, per-file health) are dropped — see DESIGN.md.
package database

import (
	"context"
	"database/sql"
	"fmt"
)

// DBQuerier defines the interface for database query operations.
// Both *sql.DB and *sql.Tx implement this interface.
type DBQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository provides database operations over provider stats and
// circuit-breaker state.
type Repository struct {
	db DBQuerier
}

// NewRepository creates a new repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// WithTransaction executes fn within a database transaction, committing
// on success and rolling back on any error fn returns.
func (r *Repository) WithTransaction(ctx context.Context, fn func(*Repository) error) error {
	sqlDB, ok := r.db.(*sql.DB)
	if !ok {
		return fmt.Errorf("persistence: repository not connected to sql.DB")
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin transaction: %w", err)
	}

	txRepo := &Repository{db: tx}

	if err := fn(txRepo); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("persistence: rollback transaction (original error: %w): %w", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistence: commit transaction: %w", err)
	}

	return nil
}
