package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter using Redis sorted sets and a sliding
// window, so limits hold across multiple API instances.
type RedisLimiter struct {
	client *redis.Client
	log    *slog.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed Limiter implementation.
func NewRedisLimiter(client *redis.Client, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLimiter{
		client: client,
		log:    log,
	}
}

// Check evaluates the rate limit for a given key using a sliding window algorithm.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("redis client is not configured for rate limiting")
	}

	now := time.Now()
	windowStart := now.Add(-window)

	if limit <= 0 {
		return &Result{Allowed: false, Remaining: 0, ResetAt: now.Add(window)}, nil
	}

	redisKey := "dutchswap:ratelimit:" + key

	cutoff := float64(windowStart.UnixNano()) / float64(time.Millisecond)
	score := float64(now.UnixNano()) / float64(time.Millisecond)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("(%f", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  score,
		Member: uuid.NewString(),
	})
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.Expire(ctx, redisKey, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Error("rate limiter pipeline failed", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	count, err := countCmd.Result()
	if err != nil {
		l.log.Error("rate limiter failed to read count", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	// The window slides: capacity returns when the oldest retained
	// request falls out of it.
	resetAt := now.Add(window)
	if oldest, err := oldestCmd.Result(); err == nil && len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(window)
	}

	return &Result{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
