package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryLimiter is a sliding-window limiter for single-instance deployments
// where Redis is not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	log     *slog.Logger
}

// NewMemoryLimiter returns an in-memory limiter implementation.
func NewMemoryLimiter(log *slog.Logger) *MemoryLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &MemoryLimiter{
		buckets: make(map[string][]time.Time),
		log:     log,
	}
}

var _ Limiter = (*MemoryLimiter)(nil)

// Check enforces a sliding-window limit for the provided key.
func (m *MemoryLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := time.Now()
	windowStart := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	recent := trimExpired(m.buckets[key], windowStart)

	allowed := len(recent) < limit
	if allowed {
		recent = append(recent, now)
	}
	m.buckets[key] = recent

	remaining := limit - len(recent)
	if remaining < 0 {
		remaining = 0
	}

	// The window slides: capacity returns when the oldest retained
	// request falls out of it.
	resetAt := now.Add(window)
	if len(recent) > 0 {
		resetAt = recent[0].Add(window)
	}

	return &Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Cleanup removes buckets that have been inactive for more than maxAge.
func (m *MemoryLimiter) Cleanup(maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}

	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, reqs := range m.buckets {
		if len(reqs) == 0 || reqs[len(reqs)-1].Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}

func trimExpired(reqs []time.Time, windowStart time.Time) []time.Time {
	firstIdx := 0
	for firstIdx < len(reqs) && reqs[firstIdx].Before(windowStart) {
		firstIdx++
	}

	if firstIdx == 0 {
		return reqs
	}

	copy(reqs, reqs[firstIdx:])
	return reqs[:len(reqs)-firstIdx]
}
