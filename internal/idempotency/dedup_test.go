package idempotency

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_MarkSeen(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	fresh, err := m.MarkSeen(ctx, 1)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = m.MarkSeen(ctx, 1)
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = m.MarkSeen(ctx, 2)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemory_Expires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	fresh, _ := m.MarkSeen(ctx, 7)
	require.True(t, fresh)

	now = now.Add(59 * time.Second)
	fresh, _ = m.MarkSeen(ctx, 7)
	assert.False(t, fresh)

	now = now.Add(time.Second)
	fresh, _ = m.MarkSeen(ctx, 7)
	assert.True(t, fresh)
}

func TestMemory_Forget(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	_, _ = m.MarkSeen(ctx, 3)
	require.NoError(t, m.Forget(ctx, 3))

	fresh, err := m.MarkSeen(ctx, 3)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemory_SweepsExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for i := 0; i < 2000; i++ {
		_, _ = m.MarkSeen(ctx, i)
	}
	now = now.Add(time.Hour)
	_, _ = m.MarkSeen(ctx, 5000)

	assert.Equal(t, 1, m.len())
}

func TestRedis_MarkSeen(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	prefix := "test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	r := NewRedis(client, prefix, time.Minute)
	t.Cleanup(func() { _ = r.Forget(ctx, 42) })

	fresh, err := r.MarkSeen(ctx, 42)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = r.MarkSeen(ctx, 42)
	require.NoError(t, err)
	assert.False(t, fresh)

	require.NoError(t, r.Forget(ctx, 42))
	fresh, err = r.MarkSeen(ctx, 42)
	require.NoError(t, err)
	assert.True(t, fresh)
}
