package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/netsync/internal/config"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:", ttl, nil), mr
}

func TestRedisStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, 30*time.Second)

	require.NoError(t, store.Announce(ctx, record("abc", time.Now())))

	assert.True(t, mr.Exists("test:clients:abc"))
	members, err := mr.Members("test:clients:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, members)
	assert.Equal(t, 30*time.Second, mr.TTL("test:clients:abc"))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", got.Endpoint)
}

func TestRedisStore_Withdraw(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, 30*time.Second)

	require.NoError(t, store.Announce(ctx, record("abc", time.Now())))
	require.NoError(t, store.Withdraw(ctx, "abc"))

	assert.False(t, mr.Exists("test:clients:abc"))
	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Withdraw(ctx, "abc"))
}

func TestRedisStore_HeartbeatDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, 10*time.Second)

	require.NoError(t, store.Announce(ctx, record("live", time.Now())))
	mr.FastForward(8 * time.Second)

	require.NoError(t, store.Heartbeat(ctx, []*Record{record("live", time.Now()), record("gone", time.Now())}))
	assert.Equal(t, 10*time.Second, mr.TTL("test:clients:live"))
	assert.False(t, mr.Exists("test:clients:gone"))
}

func TestRedisStore_ListPrunesExpired(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, 10*time.Second)

	require.NoError(t, store.Announce(ctx, record("a", time.Now())))
	require.NoError(t, store.Announce(ctx, record("b", time.Now())))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	mr.FastForward(5 * time.Second)
	require.NoError(t, store.Heartbeat(ctx, []*Record{record("a", time.Now())}))
	mr.FastForward(6 * time.Second)

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ClientID)

	members, err := mr.Members("test:clients:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)
}

func TestRedisStore_ListEmpty(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Second)
	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Second)
	mr.Close()

	assert.Error(t, store.Announce(context.Background(), record("a", time.Now())))
	_, err := store.List(context.Background())
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := NewRedisClient(&config.RedisConfig{Addresses: []string{mr.Addr()}, DialTimeout: time.Second})
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())
}
