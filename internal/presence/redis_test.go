package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client)
}

func TestRedisStore_ConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	first, err := s.Connect(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, first, "expected first connection to report first=true")

	first, err = s.Connect(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, first, "expected second connection to report first=false")

	online, err := s.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, online, "expected user-1 to be online")

	last, err := s.Disconnect(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, last, "expected user to stay online with one connection left")

	ok, err := s.IsOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok, "expected user-1 to remain online")

	last, err = s.Disconnect(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, last, "expected final disconnect to report last=true")

	ok, err = s.IsOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok, "expected user-1 to be offline")

	online, err = s.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, online, "expected no online users")
}

func TestRedisStore_ExcessDisconnectsDoNotWedgeRefcount(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	_, err := s.Connect(ctx, "user-1")
	require.NoError(t, err)

	for range 3 {
		_, err := s.Disconnect(ctx, "user-1")
		require.NoError(t, err)
	}

	ok, err := s.IsOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok, "expected user-1 to be offline after excess disconnects")

	// the refcount entry must have been deleted, not driven negative,
	// or the next connection would never be seen as the first
	first, err := s.Connect(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, first, "expected reconnect to report first=true")
}

func TestRedisStore_SharedAcrossInstances(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		clientA.Close()
		clientB.Close()
	})

	storeA := NewRedisStore(clientA)
	storeB := NewRedisStore(clientB)

	_, err := storeA.Connect(ctx, "user-1")
	require.NoError(t, err)

	ok, err := storeB.IsOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok, "expected user-1 to be online from the other instance")

	online, err := storeB.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, online)
}

func TestRedisStore_Touch(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	ts, err := s.LastActive(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ts.IsZero(), "expected zero last-active before any activity")

	_, err = s.Connect(ctx, "user-1")
	require.NoError(t, err)

	ts, err = s.LastActive(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ts.IsZero(), "expected connect to record last-active")

	require.NoError(t, s.Touch(ctx, "user-2"))

	ts, err = s.LastActive(ctx, "user-2")
	require.NoError(t, err)
	assert.False(t, ts.IsZero(), "expected touch to record last-active")
}
