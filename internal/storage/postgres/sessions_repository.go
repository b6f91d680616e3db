package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arisu-i18n/arisu/internal/metrics"
	"github.com/arisu-i18n/arisu/internal/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ session.Store   = (*SessionRepository)(nil)
	_ session.Sweeper = (*SessionRepository)(nil)
	_ session.Pinger  = (*SessionRepository)(nil)
)

// SessionRepository stores sessions in the sessions table.
type SessionRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", session.ErrStoreUnavailable, op, err)
}

func (r *SessionRepository) Get(ctx context.Context, id string) (_ *session.Session, err error) {
	q := metrics.StartQuery(metrics.StoreSessions, "get_session")
	defer func() {
		if errors.Is(err, session.ErrNotFound) {
			q.Done(nil)
			return
		}
		q.Done(err)
	}()
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var s session.Session
	err = r.pool.QueryRow(ctx, `
SELECT id, COALESCE(user_id, ''), started_at, device, remote_address
  FROM sessions
 WHERE id = $1`, id).Scan(&s.ID, &s.UserID, &s.StartedAt, &s.Device, &s.RemoteAddress)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	s.StartedAt = s.StartedAt.UTC()
	return &s, nil
}

// Create inserts s unless a row with the same id exists.
func (r *SessionRepository) Create(ctx context.Context, s *session.Session) (err error) {
	q := metrics.StartQuery(metrics.StoreSessions, "create_session")
	defer func() {
		if errors.Is(err, session.ErrExists) {
			q.Done(nil)
			return
		}
		q.Done(err)
	}()
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
INSERT INTO sessions (id, user_id, started_at, device, remote_address)
VALUES ($1, NULLIF($2, ''), $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, s.ID, s.UserID, s.StartedAt, s.Device, s.RemoteAddress)
	if err != nil {
		return unavailable("create session", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrExists
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) (err error) {
	q := metrics.StartQuery(metrics.StoreSessions, "delete_session")
	defer func() { q.Done(err) }()
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if _, err = r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

// DeleteExpired removes sessions started at or before startedBefore. It runs
// from the sweep job, so only the caller's deadline applies.
func (r *SessionRepository) DeleteExpired(ctx context.Context, startedBefore time.Time) (_ int64, err error) {
	q := metrics.StartQuery(metrics.StoreSessions, "sweep_sessions")
	defer func() { q.Done(err) }()

	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE started_at <= $1`, startedBefore)
	if err != nil {
		return 0, unavailable("sweep sessions", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
