package main

import (
	"context"
	"log/slog"
	"time"
)

type sweepService interface {
	ExpireStalled(ctx context.Context) (int, error)
	ReconcileDeduped(ctx context.Context) (int, error)
}

// Sweeper periodically fails stalled builds and completes
// deduplicated records that missed their build's completion.
type Sweeper struct {
	Service  sweepService  // required
	Interval time.Duration // required
	Log      *slog.Logger  // required
}

// Run returns only when ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	log := s.Log.With("component", "sweeper")

	reconciled, err := s.Service.ReconcileDeduped(ctx)
	if err != nil {
		log.Error("didn't reconcile deduplicated records", "error", err)
	}
	if reconciled > 0 {
		log.Info("reconciled deduplicated records", "count", reconciled)
	}

	expired, err := s.Service.ExpireStalled(ctx)
	if err != nil {
		log.Error("didn't expire stalled builds", "error", err)
	}
	if expired > 0 {
		log.Info("expired stalled builds", "count", expired)
	}
}
