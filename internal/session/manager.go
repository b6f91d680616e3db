package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arisu-i18n/arisu/internal/metrics"
	"github.com/rs/zerolog"
)

// maxCreateAttempts bounds id regeneration when Create reports a collision.
const maxCreateAttempts = 3

// IDSource mints new session ids.
type IDSource interface {
	New() (string, error)
}

// Manager applies the session lifecycle on top of a Store: expiry on read,
// fresh ids on creation and login, removal on logout.
type Manager struct {
	store        Store
	ids          IDSource
	ttl          time.Duration
	storeTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithStoreTimeout bounds each store call made by the manager. The deadline
// is derived from the caller's context, so it never outlives the request.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.storeTimeout = timeout
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store Store, ids IDSource, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ids:    ids,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger.With().Str("component", "sessions").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.storeTimeout)
}

func (m *Manager) storeGet(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := m.storeContext(ctx)
	defer cancel()
	return m.store.Get(ctx, id)
}

func (m *Manager) storeCreate(ctx context.Context, s *Session) error {
	ctx, cancel := m.storeContext(ctx)
	defer cancel()
	return m.store.Create(ctx, s)
}

func (m *Manager) storeDelete(ctx context.Context, id string) error {
	ctx, cancel := m.storeContext(ctx)
	defer cancel()
	return m.store.Delete(ctx, id)
}

// ExpiresAt reports when s stops being valid.
func (m *Manager) ExpiresAt(s *Session) time.Time {
	return s.ExpiresAt(m.ttl)
}

// Get returns the live session for id. An expired session is deleted and
// reported as ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, err := m.storeGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Expired(m.now(), m.ttl) {
		return s, nil
	}

	if err := m.storeDelete(ctx, s.ID); err != nil {
		return nil, fmt.Errorf("delete expired session: %w", err)
	}
	metrics.SessionsExpired.Inc()
	m.logger.Debug().Str("session_id", s.ID).Msg("expired session removed")
	return nil, ErrNotFound
}

// Create persists a new anonymous session for the client.
func (m *Manager) Create(ctx context.Context, info ClientInfo) (*Session, error) {
	return m.create(ctx, info, "")
}

func (m *Manager) create(ctx context.Context, info ClientInfo, userID string) (*Session, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := m.ids.New()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}

		s := &Session{
			ID:            id,
			UserID:        userID,
			StartedAt:     m.now().UTC(),
			Device:        info.Device,
			RemoteAddress: info.RemoteAddress,
		}
		err = m.storeCreate(ctx, s)
		if err == nil {
			metrics.SessionsCreated.Inc()
			return s, nil
		}
		if !errors.Is(err, ErrExists) {
			return nil, err
		}
		m.logger.Warn().Str("session_id", id).Msg("session id collision")
	}
	return nil, fmt.Errorf("create session: %w", ErrExists)
}

// Resolve returns the request state for a verified cookie id. An empty id,
// or one without a live session, yields a brand-new anonymous session.
func (m *Manager) Resolve(ctx context.Context, id string, info ClientInfo) (*State, error) {
	if id != "" {
		s, err := m.Get(ctx, id)
		if err == nil {
			return &State{current: s, received: s.ID}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	s, err := m.Create(ctx, info)
	if err != nil {
		return nil, err
	}
	return &State{current: s}, nil
}

// Login binds userID to the client by replacing the current session with a
// fresh one. The previous id is never reused.
func (m *Manager) Login(ctx context.Context, st *State, userID string) error {
	if st == nil || st.current == nil {
		return ErrNotFound
	}
	previous := st.current

	if err := m.storeDelete(ctx, previous.ID); err != nil {
		return fmt.Errorf("delete previous session: %w", err)
	}
	metrics.SessionsDestroyed.Inc()

	next, err := m.create(ctx, ClientInfo{Device: previous.Device, RemoteAddress: previous.RemoteAddress}, userID)
	if err != nil {
		st.destroy()
		return err
	}
	st.current = next
	return nil
}

// Logout removes the current session. The request must not be processed
// against it afterwards.
func (m *Manager) Logout(ctx context.Context, st *State) error {
	if st == nil || st.current == nil {
		return ErrNotFound
	}
	if err := m.storeDelete(ctx, st.current.ID); err != nil {
		return err
	}
	metrics.SessionsDestroyed.Inc()
	st.destroy()
	return nil
}

// Sweep removes every expired session when the store supports bulk removal.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	sweeper, ok := m.store.(Sweeper)
	if !ok {
		return 0, nil
	}
	removed, err := sweeper.DeleteExpired(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return 0, err
	}
	metrics.SessionsExpired.Add(float64(removed))
	return removed, nil
}

// Ping checks the backing store when it supports it.
func (m *Manager) Ping(ctx context.Context) error {
	pinger, ok := m.store.(Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := m.storeContext(ctx)
	defer cancel()
	return pinger.Ping(ctx)
}
