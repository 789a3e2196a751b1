package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"

	"github.com/w3bx/dutchswap/internal/api"
	"github.com/w3bx/dutchswap/internal/auction"
	"github.com/w3bx/dutchswap/internal/database"
	apperrors "github.com/w3bx/dutchswap/internal/errors"
	"github.com/w3bx/dutchswap/internal/health"
	"github.com/w3bx/dutchswap/internal/idempotency"
	"github.com/w3bx/dutchswap/internal/jobs"
	jobhandlers "github.com/w3bx/dutchswap/internal/jobs/handlers"
	"github.com/w3bx/dutchswap/internal/ledger"
	"github.com/w3bx/dutchswap/internal/lifecycle"
	"github.com/w3bx/dutchswap/internal/market"
	"github.com/w3bx/dutchswap/internal/middleware"
	"github.com/w3bx/dutchswap/internal/notify"
	"github.com/w3bx/dutchswap/internal/payments"
	"github.com/w3bx/dutchswap/internal/ratelimit"
	"github.com/w3bx/dutchswap/internal/repository"
	"github.com/w3bx/dutchswap/pkg/config"
	"github.com/w3bx/dutchswap/pkg/graceful"
	"github.com/w3bx/dutchswap/pkg/logger"
	"github.com/w3bx/dutchswap/pkg/metrics"
	redisclient "github.com/w3bx/dutchswap/pkg/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return err
	}

	log, levelVar, err := logger.New(*cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	config.WatchLogLevel(v, levelVar, log)

	log.Info("starting dutchswap",
		slog.String("env", cfg.AppEnv),
		slog.String("http_port", cfg.HTTP.Port),
		slog.String("ledger", cfg.Market.Ledger))

	shutdown := lifecycle.NewShutdown(log)

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	if err := database.NewMigrator(db, log).ApplyDir(ctx, "migrations"); err != nil {
		return err
	}

	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	shutdown.Register("redis", func(context.Context) error { return rdb.Close() })

	var assets auction.AssetLedger
	switch cfg.Market.Ledger {
	case "redis":
		assets = ledger.NewRedisLedger(rdb.Client, log)
	default:
		assets = ledger.NewMemoryLedger(log)
	}

	rail := payments.NewBank(log)

	var notifier market.Notifier
	announcer, err := notify.New(cfg.Notify, log)
	if err != nil {
		return err
	}
	if announcer != nil {
		notifier = announcer
	}

	repo := repository.NewAuctionRepository(db, log)
	mkt := market.New(
		auction.Account(cfg.Market.EscrowAccount),
		assets,
		rail,
		auction.SystemClock(),
		repo,
		notifier,
		log,
	)

	go metrics.NewStatusCollector(mkt).Run(ctx)

	checker := health.NewChecker(log)
	checker.AddCheck("database", health.NewDBChecker(db))
	checker.AddCheck("redis", health.NewRedisChecker(rdb.Client))
	if announcer != nil {
		checker.AddCheck("notifier", announcer)
	}

	opts := api.Options{
		Idempotency: idempotency.NewManager(idempotency.NewRedisStore(rdb.Client, log), log),
	}
	go idempotency.NewCleaner(rdb.Client, log, time.Hour).Run(ctx)

	if cfg.Limits.Enabled {
		window := cfg.Limits.Window
		if window <= 0 {
			window = time.Minute
		}
		opts.RateLimit = middleware.NewRateLimit(
			ratelimit.NewRedisLimiter(rdb.Client, log),
			cfg.Limits.PerMin,
			window,
			log,
		)
	}

	if cfg.Jobs.Enabled {
		registerJobs(cfg, mkt, repo, shutdown, log)
	}

	srv := api.NewServer(mkt, checker, apperrors.NewHandler(log, cfg.Sentry.Enabled), log)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Port,
		Handler:           srv.Handler(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := graceful.NewServer(log, httpServer, cfg.HTTP.ShutdownTimeout).ListenAndServe(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown completed with errors", slog.Any("error", err))
	}

	return serveErr
}

func registerJobs(
	cfg *config.Config,
	mkt *market.Market,
	repo repository.AuctionRepository,
	shutdown *lifecycle.Shutdown,
	log *slog.Logger,
) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	worker := jobs.NewWorker(redisOpt, map[string]int{
		jobs.QueueCritical: 6,
		jobs.QueueDefault:  3,
		jobs.QueueLow:      1,
	}, log)
	worker.RegisterHandler(jobs.TaskTypePriceSnapshot, jobhandlers.NewPriceSnapshotHandler(mkt, log))
	worker.RegisterHandler(jobs.TaskTypeRecordCleanup, jobhandlers.NewRecordCleanupHandler(repo, log))

	go func() {
		if err := worker.Run(); err != nil {
			log.Error("jobs worker stopped", slog.Any("error", err))
		}
	}()

	scheduler := jobs.NewScheduler(redisOpt, log)
	schedule := cfg.Jobs.SnapshotSchedule
	if schedule == "" {
		schedule = "*/1 * * * *"
	}
	if err := scheduler.RegisterTasks(schedule); err != nil {
		log.Error("failed to register scheduled tasks", slog.Any("error", err))
		return
	}
	scheduler.Run()

	shutdown.Register("jobs", func(context.Context) error {
		scheduler.Shutdown()
		worker.Shutdown()
		return nil
	})
}
