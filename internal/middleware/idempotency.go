package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/w3bx/dutchswap/internal/idempotency"
)

// IdempotencyKeyHeader carries the client-chosen replay key on buy requests.
const IdempotencyKeyHeader = "Idempotency-Key"

const idempotencyTTL = 24 * time.Hour

// errNotRecorded marks a response that must not be cached so the client can
// retry the operation.
var errNotRecorded = errors.New("response not recorded")

// Idempotency executes the wrapped handler at most once per account, auction
// and client key, replaying the recorded response on retries. Requests
// without the header pass through untouched. Server failures are never
// cached, a retry with the same key attempts the operation again.
func Idempotency(manager idempotency.Manager, auctionID func(r *http.Request) string, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if manager == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(IdempotencyKeyHeader)
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := idempotency.PurchaseKey(r.Header.Get(AccountHeader), auctionID(r), clientKey)

			var passthrough *idempotency.Response
			result, err := manager.Execute(r.Context(), key, idempotencyTTL, func(ctx context.Context) (*idempotency.Response, error) {
				recorder := httptest.NewRecorder()
				next.ServeHTTP(recorder, r.WithContext(ctx))

				resp := &idempotency.Response{
					StatusCode: recorder.Code,
					Body:       recorder.Body.Bytes(),
				}

				if recorder.Code >= http.StatusInternalServerError {
					passthrough = resp
					return nil, errNotRecorded
				}

				return resp, nil
			})

			switch {
			case errors.Is(err, errNotRecorded):
				writeRecorded(w, passthrough, false)
			case errors.Is(err, idempotency.ErrInFlight):
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error":"a request with this idempotency key is still in progress"}`))
			case err != nil:
				log.Error("idempotent request failed", slog.String("key", key), slog.Any("error", err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal error"}`))
			default:
				writeRecorded(w, result.Response, result.Replayed)
			}
		})
	}
}

func writeRecorded(w http.ResponseWriter, resp *idempotency.Response, replayed bool) {
	if resp == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if replayed {
		w.Header().Set("Idempotency-Replayed", "true")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
