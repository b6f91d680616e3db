package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrEmailTaken         = errors.New("email is already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrSaltMissing        = errors.New("salt is not configured")
	// ErrTokenConflict is returned when a token swap keeps losing to
	// concurrent writers.
	ErrTokenConflict = errors.New("token was changed concurrently")
)

// User is an account. JWT holds the single cached token, empty when none has
// been issued since the last credential change.
type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	GitHub        string
	JWT           string
	Contributor   bool
	Translator    bool
	Projects      []string
	Organisations []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Organisation struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Patch carries the self-service fields of a user. Nil fields are left
// unchanged.
type Patch struct {
	Username    *string
	Contributor *bool
	Translator  *bool
}

func (p Patch) Empty() bool {
	return p.Username == nil && p.Contributor == nil && p.Translator == nil
}

// Repository persists users. Implementations report unique index violations
// as ErrUsernameTaken or ErrEmailTaken and missing rows as ErrUserNotFound.
type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Update applies patch and returns the updated user. A username change
	// clears the cached token.
	Update(ctx context.Context, id string, patch Patch) (*User, error)
	Delete(ctx context.Context, id string) error

	// CompareAndSwapToken stores next only if the cached token still equals
	// expected ("" meaning none). It returns the token stored after the call,
	// which differs from next when another writer won.
	CompareAndSwapToken(ctx context.Context, id, expected, next string) (string, error)

	ListProjects(ctx context.Context, ownerID string) ([]Project, error)
	ListOrganisations(ctx context.Context, ownerID string) ([]Organisation, error)
}
