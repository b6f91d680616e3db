package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no live session exists for an id.
	ErrNotFound = errors.New("session not found")

	// ErrExists is returned by Store.Create when the id is already taken.
	ErrExists = errors.New("session already exists")

	// ErrStoreUnavailable wraps backend connectivity failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store persists session records. Implementations must make Create an atomic
// insert-if-absent and wrap backend failures with ErrStoreUnavailable.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Create(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// Sweeper is implemented by stores that need expired records removed in bulk.
type Sweeper interface {
	DeleteExpired(ctx context.Context, startedBefore time.Time) (int64, error)
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
