package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/w3bx/dutchswap/internal/errors"
	"github.com/w3bx/dutchswap/internal/ratelimit"
)

// AccountHeader identifies the calling account on API requests.
const AccountHeader = "X-Account"

// RateLimit enforces a per-account sliding-window limit. Requests without an
// account header are keyed by remote address. Limiter failures let the
// request through so a Redis outage does not take down the API.
type RateLimit struct {
	limiter ratelimit.Limiter
	limit   int
	window  time.Duration
	log     *slog.Logger
}

// NewRateLimit constructs a rate-limit middleware component.
func NewRateLimit(limiter ratelimit.Limiter, limit int, window time.Duration, log *slog.Logger) *RateLimit {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimit{
		limiter: limiter,
		limit:   limit,
		window:  window,
		log:     log,
	}
}

// Handle wraps next with rate-limit enforcement.
func (m *RateLimit) Handle(next http.Handler) http.Handler {
	if m == nil || m.limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(AccountHeader)
		if key == "" {
			key = r.RemoteAddr
		}

		result, err := m.limiter.Check(r.Context(), key, m.limit, m.window)
		if err != nil {
			m.log.Warn("rate limiter error", slog.String("key", key), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			m.log.Warn("rate limit exceeded", slog.String("key", key))

			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			appErr := apperrors.NewRateLimitError(retryAfter)

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			body, _ := json.Marshal(map[string]string{
				"error": appErr.UserMessage,
				"code":  appErr.Code,
			})
			_, _ = w.Write(body)
			return
		}

		next.ServeHTTP(w, r)
	})
}
