package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedisLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := NewRedisLimiter(setupTestRedis(t), testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "acct:alice", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, result.Allowed)
	}
}

func TestRedisLimiter_BlocksWhenExceeded(t *testing.T) {
	limiter := NewRedisLimiter(setupTestRedis(t), testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "acct:bob", 2, time.Minute)
		assert.NoError(t, err)
		if i < 2 {
			assert.True(t, result.Allowed)
		} else {
			assert.False(t, result.Allowed)
		}
	}
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewRedisLimiter(setupTestRedis(t), testLogger())
	ctx := context.Background()

	first, err := limiter.Check(ctx, "acct:alice", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, first.Allowed)

	blocked, err := limiter.Check(ctx, "acct:alice", 1, time.Minute)
	assert.NoError(t, err)
	assert.False(t, blocked.Allowed)

	other, err := limiter.Check(ctx, "acct:carol", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	limiter := NewMemoryLimiter(testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "acct:alice", 2, 200*time.Millisecond)
		assert.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	blocked, err := limiter.Check(ctx, "acct:alice", 2, 200*time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, blocked.Allowed)

	time.Sleep(250 * time.Millisecond)

	result, err := limiter.Check(ctx, "acct:alice", 2, 200*time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestMemoryLimiter_ResetAtTracksOldestRequest(t *testing.T) {
	limiter := NewMemoryLimiter(testLogger())
	ctx := context.Background()

	first, err := limiter.Check(ctx, "acct:alice", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, first.Allowed)

	blocked, err := limiter.Check(ctx, "acct:alice", 1, time.Minute)
	assert.NoError(t, err)
	assert.False(t, blocked.Allowed)

	// The window frees up when the first request ages out, so the reset
	// must sit close to a full window in the future, not at the current
	// instant.
	assert.Greater(t, time.Until(blocked.ResetAt), 50*time.Second)
	assert.LessOrEqual(t, time.Until(blocked.ResetAt), time.Minute)
}

func TestRedisLimiter_ResetAtTracksOldestRequest(t *testing.T) {
	limiter := NewRedisLimiter(setupTestRedis(t), testLogger())
	ctx := context.Background()

	first, err := limiter.Check(ctx, "acct:alice", 1, time.Minute)
	assert.NoError(t, err)
	assert.True(t, first.Allowed)

	blocked, err := limiter.Check(ctx, "acct:alice", 1, time.Minute)
	assert.NoError(t, err)
	assert.False(t, blocked.Allowed)

	assert.Greater(t, time.Until(blocked.ResetAt), 50*time.Second)
	assert.LessOrEqual(t, time.Until(blocked.ResetAt), time.Minute)
}

func TestMemoryLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	limiter := NewMemoryLimiter(testLogger())
	ctx := context.Background()

	_, err := limiter.Check(ctx, "acct:idle", 5, 10*time.Millisecond)
	assert.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	limiter.Cleanup(10 * time.Millisecond)

	limiter.mu.Lock()
	_, exists := limiter.buckets["acct:idle"]
	limiter.mu.Unlock()
	assert.False(t, exists)
}
