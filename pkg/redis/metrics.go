package redis

import (
	"context"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

var (
	redisCommandsTotal  *prometheus.CounterVec
	redisErrorsTotal    *prometheus.CounterVec
	redisCommandSeconds *prometheus.HistogramVec
)

func init() {
	redisCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_commands_total",
			Help: "Total number of Redis commands by name.",
		},
		[]string{"command"},
	)
	redisErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of Redis command errors by name.",
		},
		[]string{"command"},
	)
	redisCommandSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_command_duration_seconds",
			Help:    "Redis command latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	prometheus.MustRegister(redisCommandsTotal, redisErrorsTotal, redisCommandSeconds)
}

// metricsHook instruments every command issued through the client, including
// the idempotency store, rate limiter and ledger traffic, without the
// callers having to opt in.
type metricsHook struct{}

var _ goredis.Hook = metricsHook{}

func (metricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (metricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(cmd.Name(), time.Since(start), err)
		return err
	}
}

func (metricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		elapsed := time.Since(start)
		for _, cmd := range cmds {
			observe(cmd.Name(), elapsed, cmd.Err())
		}
		return err
	}
}

func observe(command string, elapsed time.Duration, err error) {
	if command == "" {
		command = "unknown"
	}

	redisCommandsTotal.WithLabelValues(command).Inc()
	redisCommandSeconds.WithLabelValues(command).Observe(elapsed.Seconds())
	if err != nil && err != goredis.Nil {
		redisErrorsTotal.WithLabelValues(command).Inc()
	}
}
