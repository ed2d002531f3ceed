package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLimiter(client, limit, window, "login"), mr
}

func TestAllow_UpToLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d", i+1)
	}

	allowed, err := rl.Allow(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Other keys are unaffected.
	allowed, err = rl.Allow(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllow_WindowExpires(t *testing.T) {
	rl, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.Equal(t, time.Minute, mr.TTL("login:k"))
	mr.FastForward(time.Minute + time.Second)

	allowed, err = rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRetryAfterAndReset(t *testing.T) {
	rl, mr := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	wait, err := rl.RetryAfter(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, wait)

	_, err = rl.Allow(ctx, "k")
	require.NoError(t, err)
	wait, err = rl.RetryAfter(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, wait)

	mr.FastForward(20 * time.Second)
	wait, err = rl.RetryAfter(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, wait)

	require.NoError(t, rl.Reset(ctx, "k"))
	wait, err = rl.RetryAfter(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, wait)
	assert.False(t, mr.Exists("login:k"))
}

func TestAllow_FailsOpen(t *testing.T) {
	rl, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	allowed, err := rl.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, allowed)
}

func TestNewClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	_, err = NewClient(context.Background(), "not a url")
	assert.Error(t, err)
}
