package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arisu-i18n/arisu/internal/domain/users"
	"github.com/arisu-i18n/arisu/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ users.Repository = (*UserRepository)(nil)

const uniqueViolation = "23505"

type UserRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

const selectUser = `
SELECT u.id, u.username, u.email, u.password_hash,
       COALESCE(u.github, ''), COALESCE(u.jwt, ''),
       u.contributor, u.translator,
       ARRAY(SELECT p.id FROM projects p WHERE p.owner_id = u.id ORDER BY p.created_at, p.id),
       ARRAY(SELECT o.id FROM organisations o WHERE o.owner_id = u.id ORDER BY o.created_at, o.id),
       u.created_at, u.updated_at
  FROM users u`

func scanUser(row pgx.Row) (*users.User, error) {
	var u users.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.GitHub, &u.JWT,
		&u.Contributor, &u.Translator,
		&u.Projects, &u.Organisations,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, users.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// mapUniqueViolation translates unique index violations into domain errors.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "users_username_key":
		return users.ErrUsernameTaken
	case "users_email_key":
		return users.ErrEmailTaken
	}
	return err
}

func (r *UserRepository) Create(ctx context.Context, user *users.User) (err error) {
	q := metrics.StartQuery(metrics.StoreUsers, "create_user")
	defer func() { q.Done(err) }()
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	_, err = r.pool.Exec(ctx, `
INSERT INTO users (id, username, email, password_hash, github, contributor, translator, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.GitHub,
		user.Contributor, user.Translator, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.getOne(ctx, "get_user", selectUser+` WHERE u.id = $1`, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	return r.getOne(ctx, "get_user_by_username", selectUser+` WHERE lower(u.username) = lower($1)`, username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	return r.getOne(ctx, "get_user_by_email", selectUser+` WHERE lower(u.email) = lower($1)`, email)
}

func (r *UserRepository) getOne(ctx context.Context, op, query string, arg string) (user *users.User, err error) {
	q := metrics.StartQuery(metrics.StoreUsers, op)
	defer func() {
		if errors.Is(err, users.ErrUserNotFound) {
			q.Done(nil)
			return
		}
		q.Done(err)
	}()
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	return r.scanOne(ctx, r.pool, op, query, arg)
}

func (r *UserRepository) scanOne(ctx context.Context, db queryer, op, query, arg string) (*users.User, error) {
	user, err := scanUser(db.QueryRow(ctx, query, arg))
	if err != nil && !errors.Is(err, users.ErrUserNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, err
}

// Update applies patch and reads the row back in the same transaction, so
// the returned user is the state this patch produced.
func (r *UserRepository) Update(ctx context.Context, id string, patch users.Patch) (user *users.User, err error) {
	q := metrics.StartQuery(metrics.StoreUsers, "update_user")
	defer func() {
		if errors.Is(err, users.ErrUserNotFound) || errors.Is(err, users.ErrUsernameTaken) {
			q.Done(nil)
			return
		}
		q.Done(err)
	}()
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	err = inTx(ctx, r.pool, func(db queryer) error {
		tag, err := db.Exec(ctx, `
UPDATE users
   SET jwt = CASE WHEN $2::text IS NOT NULL AND $2::text <> username THEN NULL ELSE jwt END,
       username = COALESCE($2::text, username),
       contributor = COALESCE($3::boolean, contributor),
       translator = COALESCE($4::boolean, translator),
       updated_at = now()
 WHERE id = $1`, id, patch.Username, patch.Contributor, patch.Translator)
		if err != nil {
			if mapped := mapUniqueViolation(err); mapped != err {
				return mapped
			}
			return fmt.Errorf("update user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return users.ErrUserNotFound
		}

		user, err = r.scanOne(ctx, db, "update_user", selectUser+` WHERE u.id = $1`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Delete removes the user. Projects, organisations and sessions go with it
// through ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id string) (err error) {
	q := metrics.StartQuery(metrics.StoreUsers, "delete_user")
	defer func() {
		if errors.Is(err, users.ErrUserNotFound) {
			q.Done(nil)
			return
		}
		q.Done(err)
	}()
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

// CompareAndSwapToken updates the jwt column only when it still holds
// expected. When the guard fails the current value is read back.
func (r *UserRepository) CompareAndSwapToken(ctx context.Context, id, expected, next string) (stored string, err error) {
	q := metrics.StartQuery(metrics.StoreUsers, "swap_user_token")
	defer func() { q.Done(err) }()
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	db := r.pool
	err = db.QueryRow(ctx, `
UPDATE users
   SET jwt = $3, updated_at = now()
 WHERE id = $1
   AND jwt IS NOT DISTINCT FROM NULLIF($2, '')
RETURNING jwt`, id, expected, next).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("swap token: %w", err)
	}

	err = db.QueryRow(ctx, `SELECT COALESCE(jwt, '') FROM users WHERE id = $1`, id).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", users.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return stored, nil
}

// CreateProject inserts a project row.
func (r *UserRepository) CreateProject(ctx context.Context, p users.Project) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
INSERT INTO projects (id, owner_id, name, description, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)`, p.ID, p.OwnerID, p.Name, p.Description, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// CreateOrganisation inserts an organisation row.
func (r *UserRepository) CreateOrganisation(ctx context.Context, o users.Organisation) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
INSERT INTO organisations (id, owner_id, name, description, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)`, o.ID, o.OwnerID, o.Name, o.Description, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert organisation: %w", err)
	}
	return nil
}

func (r *UserRepository) ListProjects(ctx context.Context, ownerID string) ([]users.Project, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
SELECT id, owner_id, name, COALESCE(description, ''), created_at
  FROM projects
 WHERE owner_id = $1
 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []users.Project
	for rows.Next() {
		var p users.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *UserRepository) ListOrganisations(ctx context.Context, ownerID string) ([]users.Organisation, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
SELECT id, owner_id, name, COALESCE(description, ''), created_at
  FROM organisations
 WHERE owner_id = $1
 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list organisations: %w", err)
	}
	defer rows.Close()

	var out []users.Organisation
	for rows.Next() {
		var o users.Organisation
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.Name, &o.Description, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan organisation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
