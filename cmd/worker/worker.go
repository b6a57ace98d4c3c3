package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type consumer interface {
	Consume(ctx context.Context, handle func(ctx context.Context, m *amqp091.Delivery)) error
}

// Worker consumes executor reports and reconnects with backoff when consumption stops.
type Worker struct {
	Consumer consumer                                        // required
	Handle   func(ctx context.Context, m *amqp091.Delivery) // required
	Log      *slog.Logger                                    // required

	retryWait func(retry int) time.Duration // default: retryWaitDuration
}

// Run returns only when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	retryWait := w.retryWait
	if retryWait == nil {
		retryWait = retryWaitDuration
	}
	log := w.Log.With("component", "worker")

	retries := 0
	for {
		consumeErr := w.Consumer.Consume(ctx, func(ctx context.Context, m *amqp091.Delivery) {
			log.Debug("received message", "message_id", m.MessageId)
			w.Handle(ctx, m)
			log.Debug("handled message", "message_id", m.MessageId)
			if retries > 0 {
				log.Info("recovered", "retries", retries)
				retries = 0
			}
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("didn't consume", "error", consumeErr)

		retries++
		select {
		case <-time.After(retryWait(retries - 1)):
		case <-ctx.Done():
			return ctx.Err()
		}
		log.Info("retrying", "retries", retries)
	}
}

// retryWaitDuration calculates the wait duration for a retry.
// It is calculated using exponential backoff with jitter.
// It grows with each retry and stops growing after thirteenth retry
// where it is chosen from the the interval (32.4s, 97.4s).
// The first retry number is 0, the thirteenth is 12.
func retryWaitDuration(retry int) time.Duration {
	n := min(retry, 12)
	second := int(time.Second)

	// start with 0.5s
	duration := second / 2

	// multiply by 1.5 to the power of n
	for i := 0; i < n; i++ {
		duration /= 2
		duration *= 3
	}

	// add or subtract up to 50%
	jitter := rand.IntN(duration) - duration/2
	duration += jitter

	return time.Duration(duration)
}
