package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/k11v/forge/internal/amqputil"
	"github.com/k11v/forge/internal/app"
	"github.com/k11v/forge/internal/build/buildamqp"
)

func main() {
	run := func() int {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := app.ParseConfig(os.Environ())
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		log := app.NewLogger(os.Stderr, cfg.Development)

		service, closeService, err := app.NewService(ctx, cfg, log)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer func() {
			if err := closeService(); err != nil {
				log.Error("didn't close service", "error", err)
			}
		}()

		handler := &buildamqp.Handler{Reporter: service, Log: log}
		worker := &Worker{
			Consumer: amqputil.NewClient(cfg.AMQPConnectionString(), buildamqp.QueueParams(buildamqp.QueueBuildReported)),
			Handle:   handler.Handle,
			Log:      log,
		}
		sweeper := &Sweeper{
			Service:  service,
			Interval: cfg.Worker.SweepIntervalOrDefault(),
			Log:      log,
		}

		grp, grpCtx := errgroup.WithContext(ctx)
		grp.Go(func() error { return worker.Run(grpCtx) })
		grp.Go(func() error { return sweeper.Run(grpCtx) })

		log.Info("starting worker")
		if err = grp.Wait(); err != nil && ctx.Err() == nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		return 0
	}
	os.Exit(run())
}
