// Package logger builds the application slog.Logger: text or JSON output,
// optional rotated file logs, sensitive-attribute masking and error-level
// fan-out to Sentry.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	slogsentry "github.com/samber/slog-sentry/v2"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/w3bx/dutchswap/pkg/config"
)

// New constructs the application logger from config. The returned LevelVar
// can be adjusted at runtime (config hot reload).
func New(cfg config.Config) (*slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	parsed, err := config.ParseLevel(cfg.Logger.Level)
	if err != nil {
		return nil, nil, err
	}
	level.Set(parsed)

	var out io.Writer = os.Stdout
	if cfg.Logger.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Logger.File,
			MaxSize:    cfg.Logger.MaxSizeMB,
			MaxBackups: cfg.Logger.MaxBackups,
			MaxAge:     cfg.Logger.MaxAgeDays,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Logger.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if cfg.Sentry.Enabled {
		if err := initSentry(cfg); err != nil {
			return nil, nil, err
		}

		sentryHandler := slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()
		handler = newFanoutHandler(handler, sentryHandler)
	}

	log := slog.New(NewMaskingHandler(handler)).With(
		slog.String("service", "dutchswap"),
		slog.String("env", cfg.AppEnv),
	)

	return log, level, nil
}

func initSentry(cfg config.Config) error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: cfg.AppEnv,
	})
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}

	return nil
}
