// Package idempotency provides replay protection for purchase requests.
// A buyer retrying a buy with the same Idempotency-Key receives the
// recorded outcome of the first attempt instead of triggering a second
// settlement.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ErrInFlight is returned when another request holding the same key has not
// finished yet.
var ErrInFlight = errors.New("request with this key is already in progress")

// Response is the cached outcome of an idempotent operation.
type Response struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// Operation produces the response to cache on first execution.
type Operation func(ctx context.Context) (*Response, error)

// Result carries the operation outcome and whether it was replayed from cache.
type Result struct {
	Response *Response
	Replayed bool
}

type Manager interface {
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store Store
	log   *slog.Logger
}

func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store: store,
		log:   log,
	}
}

func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	for {
		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		if record != nil && record.Status == StatusCompleted {
			return replay(record)
		}

		if record != nil && record.Status == StatusProcessing {
			return nil, ErrInFlight
		}

		locked, err := m.store.Lock(ctx, key, 5*time.Minute)
		if err != nil {
			return nil, err
		}

		if locked {
			// A rival may have completed and released the lock between the
			// read above and the acquisition; its record must win, never be
			// overwritten by a rerun.
			recheck, err := m.store.Get(ctx, key)
			if err != nil {
				m.releaseLock(ctx, key)
				return nil, err
			}
			if recheck != nil && recheck.Status == StatusCompleted {
				m.releaseLock(ctx, key)
				return replay(recheck)
			}

			return m.run(ctx, key, ttl, fn)
		}

		// Lock holder has not written its record yet. Brief wait, then retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func replay(record *Record) (*Result, error) {
	var resp Response
	if len(record.Response) > 0 {
		if err := json.Unmarshal(record.Response, &resp); err != nil {
			return nil, err
		}
	}
	return &Result{Response: &resp, Replayed: true}, nil
}

func (m *manager) releaseLock(ctx context.Context, key string) {
	if err := m.store.ReleaseLock(ctx, key); err != nil {
		m.log.Warn("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
	}
}

func (m *manager) run(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	defer m.releaseLock(ctx, key)

	// The processing marker expires with the lock so a crashed holder does
	// not block retries for the full record TTL.
	if err := m.store.Set(ctx, key, &Record{Status: StatusProcessing}, 5*time.Minute); err != nil {
		return nil, err
	}

	resp, err := fn(ctx)
	if err != nil {
		// Leave no completed record so a retry can attempt the operation again.
		if delErr := m.store.Delete(ctx, key); delErr != nil {
			m.log.Warn("failed to clear idempotency record", slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, err
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}

	if err := m.store.Set(ctx, key, &Record{Status: StatusCompleted, Response: encoded}, ttl); err != nil {
		return nil, err
	}

	return &Result{Response: resp, Replayed: false}, nil
}
