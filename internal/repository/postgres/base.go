package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
)

// BaseRepository owns the pool and scopes transactions.
type BaseRepository struct {
	db *sqlx.DB
}

func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the pool. Only the schema guard and health checks need the concrete type.
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

func (r *BaseRepository) DB() sqlx.ExtContext {
	return r.db
}

// WithTx executes fn within a transaction. A panic or error rolls back.
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *BaseRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// getOne runs a single-row query and maps sql.ErrNoRows to a not-found error.
func getOne(ctx context.Context, q sqlx.ExtContext, dest interface{}, entity, query string, args ...interface{}) error {
	if err := sqlx.GetContext(ctx, q, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound(entity, err)
		}
		return fmt.Errorf("failed to get %s: %w", entity, err)
	}
	return nil
}

// execAffected reports whether the statement changed at least one row.
func execAffected(ctx context.Context, q sqlx.ExtContext, query string, args ...interface{}) (bool, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
