package metrics

import (
	"context"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/w3bx/dutchswap/internal/auction"
)

var (
	auctionsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auctions_opened_total",
			Help: "Total number of auctions opened labeled by asset",
		},
		[]string{"asset"},
	)
	purchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchases_total",
			Help: "Total number of purchase attempts labeled by outcome",
		},
		[]string{"status"},
	)
	settlementDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Duration of the atomic settlement in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	statusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_status_transitions_total",
			Help: "Total number of auction lifecycle transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	openAuctions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "open_auctions",
			Help: "Current number of auctions open for purchase",
		},
	)
	auctionsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auctions_by_status",
			Help: "Number of hosted auctions per lifecycle status",
		},
		[]string{"status"},
	)
	currentPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auction_current_price",
			Help: "Last observed offer price per asset",
		},
		[]string{"asset"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests labeled by route and status code",
		},
		[]string{"route", "status"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

var trackedStatuses = []auction.Status{
	auction.StatusPending,
	auction.StatusActive,
	auction.StatusSettled,
}

func init() {
	auction.RegisterTransitionRecorder(RecordStatusTransition)
}

// RecordAuctionOpened increments the opened counter for the asset.
func RecordAuctionOpened(asset string) {
	if asset == "" {
		asset = "unknown"
	}

	auctionsOpenedTotal.WithLabelValues(asset).Inc()
}

// RecordPurchase counts a purchase attempt and its settlement duration.
func RecordPurchase(status string, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}

	purchasesTotal.WithLabelValues(status).Inc()
	if status == "settled" {
		settlementDurationSeconds.Observe(duration.Seconds())
	}
}

// RecordStatusTransition tracks auction lifecycle transitions.
func RecordStatusTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	statusTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// SetOpenAuctions updates the gauge of auctions open for purchase.
func SetOpenAuctions(count int) {
	openAuctions.Set(float64(count))
}

// SetCurrentPrice publishes the last observed price for an asset. Prices
// beyond float64 precision degrade gracefully; the gauge is a trend signal,
// not the settlement source of truth.
func SetCurrentPrice(asset string, price *big.Int) {
	if asset == "" || price == nil {
		return
	}

	value, _ := new(big.Float).SetInt(price).Float64()
	currentPrice.WithLabelValues(asset).Set(value)
}

// RecordHTTPRequest counts an HTTP request and its latency.
func RecordHTTPRequest(route, status string, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	httpRequestsTotal.WithLabelValues(route, status).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SnapshotSource exposes the lifecycle statuses of all hosted auctions.
type SnapshotSource interface {
	Statuses(ctx context.Context) map[string]auction.Status
}

// StatusCollector periodically gathers auction status counts and emits gauges.
type StatusCollector struct {
	source SnapshotSource
}

// NewStatusCollector builds a metrics collector bound to the provided source.
func NewStatusCollector(source SnapshotSource) *StatusCollector {
	return &StatusCollector{source: source}
}

// Run polls the source every 10 seconds, updating gauges until ctx is cancelled.
func (c *StatusCollector) Run(ctx context.Context) {
	if c == nil || c.source == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		c.collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func (c *StatusCollector) collect(ctx context.Context) {
	statuses := c.source.Statuses(ctx)

	statusCounts := make(map[string]int, len(statuses))
	open := 0
	for _, status := range statuses {
		statusCounts[string(status)]++
		if status == auction.StatusActive {
			open++
		}
	}

	SetOpenAuctions(open)

	auctionsByStatus.Reset()

	for _, tracked := range trackedStatuses {
		label := string(tracked)
		auctionsByStatus.WithLabelValues(label).Set(float64(statusCounts[label]))
		delete(statusCounts, label)
	}

	for label, count := range statusCounts {
		auctionsByStatus.WithLabelValues(label).Set(float64(count))
	}
}
