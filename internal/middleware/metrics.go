package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/w3bx/dutchswap/pkg/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Metrics measures request duration and status per route, reporting them to
// Prometheus. The route label is supplied by the router to keep cardinality
// bounded regardless of path parameters.
func Metrics(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.RecordHTTPRequest(route, strconv.Itoa(recorder.status), time.Since(start))
	})
}
