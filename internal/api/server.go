// Package api exposes the auction market over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/w3bx/dutchswap/internal/errors"
	"github.com/w3bx/dutchswap/internal/health"
	"github.com/w3bx/dutchswap/internal/idempotency"
	"github.com/w3bx/dutchswap/internal/market"
	"github.com/w3bx/dutchswap/internal/middleware"
	"github.com/w3bx/dutchswap/pkg/logger"
)

// Server routes API requests to the market.
type Server struct {
	market   *market.Market
	checker  *health.Checker
	validate *validator.Validate
	errs     *apperrors.Handler
	log      *slog.Logger
}

// Options carries the optional middleware dependencies. Nil fields disable
// the corresponding middleware.
type Options struct {
	RateLimit   *middleware.RateLimit
	Idempotency idempotency.Manager
}

// NewServer constructs the API server.
func NewServer(m *market.Market, checker *health.Checker, errs *apperrors.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		market:   m,
		checker:  checker,
		validate: validator.New(),
		errs:     errs,
		log:      log,
	}
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler(opts Options) http.Handler {
	mux := http.NewServeMux()

	buyHandler := http.Handler(http.HandlerFunc(s.handleBuy))
	if opts.Idempotency != nil {
		buyHandler = middleware.Idempotency(opts.Idempotency, func(r *http.Request) string {
			return r.PathValue("id")
		}, s.log)(buyHandler)
	}

	mux.Handle("POST /api/v1/auctions", s.route("open_auction", http.HandlerFunc(s.handleOpen)))
	mux.Handle("GET /api/v1/auctions", s.route("list_auctions", http.HandlerFunc(s.handleList)))
	mux.Handle("GET /api/v1/auctions/{id}/price", s.route("get_price", http.HandlerFunc(s.handlePrice)))
	mux.Handle("POST /api/v1/auctions/{id}/buy", s.route("buy", buyHandler))
	mux.Handle("GET /api/v1/auctions/{id}", s.route("get_auction", http.HandlerFunc(s.handleGet)))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	var root http.Handler = mux
	if opts.RateLimit != nil {
		root = opts.RateLimit.Handle(root)
	}
	root = middleware.Logging(s.log)(root)
	root = logger.Middleware(root)

	return root
}

// route attaches per-route metrics with a fixed label.
func (s *Server) route(name string, h http.Handler) http.Handler {
	return middleware.Metrics(name, h)
}
