package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sequenceIDs struct {
	mu   sync.Mutex
	ids  []string
	next int
}

func (s *sequenceIDs) New() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < len(s.ids) {
		id := s.ids[s.next]
		s.next++
		return id, nil
	}
	s.next++
	return fmt.Sprintf("generated-%d", s.next), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*Session, error) {
	return nil, fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
}

func (failingStore) Create(context.Context, *Session) error {
	return fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
}

func (failingStore) Delete(context.Context, string) error {
	return fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
}

func newTestManager(store Store) (*Manager, *testClock) {
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(store, &sequenceIDs{}, zerolog.Nop(), WithClock(clock.Now)), clock
}

func TestManagerGetValidSession(t *testing.T) {
	store := NewMemoryStore()
	manager, clock := newTestManager(store)
	ctx := context.Background()

	created, err := manager.Create(ctx, ClientInfo{Device: "curl/8.0", RemoteAddress: "10.0.0.1"})
	require.NoError(t, err)

	clock.Advance(DefaultTTL - time.Millisecond)

	got, err := manager.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, created.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, "curl/8.0", got.Device)
	assert.Equal(t, "10.0.0.1", got.RemoteAddress)
}

func TestManagerGetExpiredSessionDeletes(t *testing.T) {
	store := NewMemoryStore()
	manager, clock := newTestManager(store)
	ctx := context.Background()

	created, err := manager.Create(ctx, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	clock.Advance(604800000 * time.Millisecond)

	_, err = manager.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())

	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("no cookie creates anonymous session", func(t *testing.T) {
		manager, _ := newTestManager(NewMemoryStore())

		st, err := manager.Resolve(ctx, "", ClientInfo{Device: "agent"})
		require.NoError(t, err)
		require.NotNil(t, st.Session())
		assert.False(t, st.Session().Authenticated())
		assert.True(t, st.Changed())
		assert.Empty(t, st.Received())
	})

	t.Run("valid cookie keeps session", func(t *testing.T) {
		manager, _ := newTestManager(NewMemoryStore())
		created, err := manager.Create(ctx, ClientInfo{})
		require.NoError(t, err)

		st, err := manager.Resolve(ctx, created.ID, ClientInfo{})
		require.NoError(t, err)
		assert.Equal(t, created.ID, st.Session().ID)
		assert.False(t, st.Changed())
	})

	t.Run("unknown id creates new session", func(t *testing.T) {
		manager, _ := newTestManager(NewMemoryStore())

		st, err := manager.Resolve(ctx, "missing", ClientInfo{})
		require.NoError(t, err)
		assert.NotEqual(t, "missing", st.Session().ID)
		assert.True(t, st.Changed())
	})

	t.Run("expired cookie creates new session", func(t *testing.T) {
		store := NewMemoryStore()
		manager, clock := newTestManager(store)
		created, err := manager.Create(ctx, ClientInfo{})
		require.NoError(t, err)
		clock.Advance(DefaultTTL + time.Second)

		st, err := manager.Resolve(ctx, created.ID, ClientInfo{})
		require.NoError(t, err)
		assert.NotEqual(t, created.ID, st.Session().ID)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		manager, _ := newTestManager(failingStore{})

		_, err := manager.Resolve(ctx, "some-id", ClientInfo{})
		require.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestManagerCreateRetriesCollision(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Session{ID: "taken", StartedAt: time.Now()}))

	manager := NewManager(store, &sequenceIDs{ids: []string{"taken", "fresh"}}, zerolog.Nop())
	created, err := manager.Create(ctx, ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, "fresh", created.ID)
}

func TestManagerCreateGivesUpAfterCollisions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Session{ID: "taken", StartedAt: time.Now()}))

	manager := NewManager(store, &sequenceIDs{ids: []string{"taken", "taken", "taken"}}, zerolog.Nop())
	_, err := manager.Create(ctx, ClientInfo{})
	require.ErrorIs(t, err, ErrExists)
}

func TestManagerLoginRotatesSession(t *testing.T) {
	store := NewMemoryStore()
	manager, _ := newTestManager(store)
	ctx := context.Background()

	st, err := manager.Resolve(ctx, "", ClientInfo{Device: "browser", RemoteAddress: "10.1.1.1"})
	require.NoError(t, err)
	anonymous := st.Session().ID

	require.NoError(t, manager.Login(ctx, st, "user-1"))

	current := st.Session()
	require.NotNil(t, current)
	assert.NotEqual(t, anonymous, current.ID)
	assert.Equal(t, "user-1", current.UserID)
	assert.Equal(t, "browser", current.Device)
	assert.True(t, st.Changed())

	_, err = store.Get(ctx, anonymous)
	assert.ErrorIs(t, err, ErrNotFound)
	stored, err := store.Get(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
}

func TestManagerLogoutDestroysSession(t *testing.T) {
	store := NewMemoryStore()
	manager, _ := newTestManager(store)
	ctx := context.Background()

	created, err := manager.Create(ctx, ClientInfo{})
	require.NoError(t, err)
	st := NewState(created, created.ID)

	require.NoError(t, manager.Logout(ctx, st))
	assert.True(t, st.Destroyed())
	assert.Nil(t, st.Session())
	assert.False(t, st.Changed())
	assert.Equal(t, 0, store.Len())

	require.ErrorIs(t, manager.Logout(ctx, st), ErrNotFound)
}

// stallingStore blocks Delete until the caller's context ends.
type stallingStore struct {
	*MemoryStore
}

func (s stallingStore) Delete(ctx context.Context, _ string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
	case <-time.After(2 * time.Second):
		return nil
	}
}

func TestManagerStoreTimeoutBoundsEveryCall(t *testing.T) {
	store := stallingStore{MemoryStore: NewMemoryStore()}
	manager := NewManager(store, &sequenceIDs{}, zerolog.Nop(), WithStoreTimeout(50*time.Millisecond))
	ctx := context.Background()

	created, err := manager.Create(ctx, ClientInfo{})
	require.NoError(t, err)

	start := time.Now()
	err = manager.Logout(ctx, NewState(created, created.ID))
	assert.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	start = time.Now()
	err = manager.Login(ctx, NewState(created, created.ID), "user-1")
	assert.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerStoreTimeoutKeepsRequestCancellation(t *testing.T) {
	store := stallingStore{MemoryStore: NewMemoryStore()}
	manager := NewManager(store, &sequenceIDs{}, zerolog.Nop(), WithStoreTimeout(time.Minute))

	created, err := manager.Create(context.Background(), ClientInfo{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = manager.Logout(ctx, NewState(created, created.ID))
	require.ErrorIs(t, err, context.Canceled)
}

func TestManagerSweep(t *testing.T) {
	store := NewMemoryStore()
	manager, clock := newTestManager(store)
	ctx := context.Background()

	_, err := manager.Create(ctx, ClientInfo{})
	require.NoError(t, err)
	clock.Advance(DefaultTTL)
	fresh, err := manager.Create(ctx, ClientInfo{})
	require.NoError(t, err)

	removed, err := manager.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	_, err = manager.Get(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestManagerSweepUnsupportedStore(t *testing.T) {
	manager, _ := newTestManager(failingStore{})

	removed, err := manager.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestManagerConcurrentCreateUnique(t *testing.T) {
	store := NewMemoryStore()
	manager, _ := newTestManager(store)
	ctx := context.Background()

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := manager.Create(ctx, ClientInfo{})
			if err == nil {
				ids <- s.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, store.Len())
}

func TestStateFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	st := NewState(&Session{ID: "abc"}, "abc")
	ctx := WithState(context.Background(), st)
	assert.Same(t, st, FromContext(ctx))

	var missing *State
	assert.Nil(t, missing.Session())
	assert.False(t, missing.Changed())
}
