// Package app wires the build service to its PostgreSQL, S3, RabbitMQ and Redis adapters.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/k11v/forge/internal/build"
	"github.com/k11v/forge/internal/build/buildamqp"
	"github.com/k11v/forge/internal/build/buildpg"
	"github.com/k11v/forge/internal/build/buildredis"
	"github.com/k11v/forge/internal/build/builds3"
	"github.com/k11v/forge/internal/postgresprovision"
	"github.com/k11v/forge/internal/postgresutil"
	"github.com/k11v/forge/internal/s3util"
)

// NewLogger returns a text logger in development and a JSON logger otherwise.
func NewLogger(w io.Writer, development bool) *slog.Logger {
	if development {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, nil))
}

// NewService connects the adapters and returns a service with a function releasing them.
// Redis notifications are enabled only when a Redis connection string is configured.
func NewService(ctx context.Context, cfg *Config, log *slog.Logger) (service *build.Service, closeFunc func() error, err error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = closeAll()
		}
	}()

	pool, err := postgresutil.NewPool(ctx, cfg.Postgres.ConnectionStringOrDefault())
	if err != nil {
		return nil, nil, fmt.Errorf("app: %w", err)
	}
	closers = append(closers, func() error {
		pool.Close()
		return nil
	})

	notifiers := build.MultiNotifier{buildamqp.NewNotifier(cfg.AMQPConnectionString())}
	if cfg.Redis.ConnectionString != "" {
		redisNotifier, err := buildredis.NewNotifier(cfg.Redis.ConnectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("app: %w", err)
		}
		closers = append(closers, redisNotifier.Close)
		notifiers = append(notifiers, redisNotifier)
	}

	service = &build.Service{
		Config:   &cfg.Build,
		DB:       buildpg.NewDatabase(pool),
		Storage:  builds3.NewStorage(cfg.s3ConnectionString()),
		Executor: buildamqp.NewExecutor(cfg.AMQPConnectionString()),
		Notifier: notifiers,
		Log:      log,
	}
	return service, closeAll, nil
}

// Setup applies migrations and creates the bucket.
func Setup(ctx context.Context, cfg *Config) error {
	if err := postgresprovision.Setup(cfg.Postgres.ConnectionStringOrDefault()); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := s3util.Setup(ctx, s3util.NewClient(cfg.s3ConnectionString())); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}
