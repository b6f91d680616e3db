package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisStore(client, DefaultTTL), mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	record := &Session{ID: "01HYX3KQW7ERTV9XNBM2P8QJZF", StartedAt: time.Now().UTC(), Device: "curl"}
	require.NoError(t, store.Create(ctx, record))

	ttl := mr.TTL(defaultRedisPrefix + record.ID)
	assert.Greater(t, ttl, DefaultTTL-time.Minute)
	assert.LessOrEqual(t, ttl, DefaultTTL)

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, "curl", got.Device)
	assert.True(t, record.StartedAt.Equal(got.StartedAt))

	require.NoError(t, store.Delete(ctx, record.ID))
	_, err = store.Get(ctx, record.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreCreateIsInsertIfAbsent(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	record := &Session{ID: "dup", StartedAt: time.Now()}
	require.NoError(t, store.Create(ctx, record))
	require.ErrorIs(t, store.Create(ctx, &Session{ID: "dup", StartedAt: time.Now(), UserID: "other"}), ErrExists)

	got, err := store.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Empty(t, got.UserID)
}

func TestRedisStoreKeyExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Session{ID: "short", StartedAt: time.Now()}))
	mr.FastForward(DefaultTTL + time.Second)

	_, err := store.Get(ctx, "short")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreCorruptBlob(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set(defaultRedisPrefix+"broken", "{not json"))

	_, err := store.Get(context.Background(), "broken")
	require.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(defaultRedisPrefix+"broken"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()
	ctx := context.Background()

	_, err := store.Get(ctx, "any")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, store.Create(ctx, &Session{ID: "any", StartedAt: time.Now()}), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete(ctx, "any"), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreUnavailable)
}

func TestManagerWithRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	manager, clock := newTestManager(store)
	store.now = clock.Now
	ctx := context.Background()

	created, err := manager.Create(ctx, ClientInfo{})
	require.NoError(t, err)

	clock.Advance(DefaultTTL)
	_, err = manager.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
