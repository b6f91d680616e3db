package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository groups the PostgreSQL-backed repositories.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository returns a Repository whose queries each run under timeout
// (zero means only the caller's deadline applies).
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres repository: pool is nil")
	}
	return &Repository{pool: pool, timeout: timeout}, nil
}

func (r *Repository) Users() *UserRepository {
	return &UserRepository{pool: r.pool, timeout: r.timeout}
}

func (r *Repository) Sessions() *SessionRepository {
	return &SessionRepository{pool: r.pool, timeout: r.timeout}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// inTx runs fn inside a transaction that is committed when fn succeeds.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(queryer) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback after error %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
