package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// StubConsumer fails Fails times, then delivers one message and waits for ctx.
type StubConsumer struct {
	Fails int

	calls int
}

func (c *StubConsumer) Consume(ctx context.Context, handle func(ctx context.Context, m *amqp091.Delivery)) error {
	c.calls++
	if c.calls <= c.Fails {
		return errors.New("connection refused")
	}
	handle(ctx, &amqp091.Delivery{MessageId: "m1"})
	<-ctx.Done()
	return ctx.Err()
}

func TestWorker(t *testing.T) {
	t.Run("retries until it consumes", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		consumer := &StubConsumer{Fails: 3}
		var waits []int
		var handled []string
		w := &Worker{
			Consumer: consumer,
			Handle: func(ctx context.Context, m *amqp091.Delivery) {
				handled = append(handled, m.MessageId)
				cancel()
			},
			Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
			retryWait: func(retry int) time.Duration {
				waits = append(waits, retry)
				return 0
			},
		}

		err := w.Run(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want %v", err, context.Canceled)
		}
		if got, want := consumer.calls, 4; got != want {
			t.Fatalf("got %d calls, want %d", got, want)
		}
		if got, want := len(waits), 3; got != want {
			t.Fatalf("got %d waits, want %d", got, want)
		}
		for i, retry := range waits {
			if retry != i {
				t.Fatalf("got retry %d at %d, want %d", retry, i, i)
			}
		}
		if got, want := len(handled), 1; got != want {
			t.Fatalf("got %d handled messages, want %d", got, want)
		}
	})
}

func TestRetryWaitDuration(t *testing.T) {
	tests := []struct {
		retry    int
		min, max time.Duration
	}{
		{retry: 0, min: 250 * time.Millisecond, max: 750 * time.Millisecond},
		{retry: 1, min: 375 * time.Millisecond, max: 1125 * time.Millisecond},
		{retry: 12, min: 32 * time.Second, max: 98 * time.Second},
		{retry: 100, min: 32 * time.Second, max: 98 * time.Second},
	}
	for _, tt := range tests {
		for range 100 {
			if got := retryWaitDuration(tt.retry); got < tt.min || got > tt.max {
				t.Fatalf("got %s for retry %d, want between %s and %s", got, tt.retry, tt.min, tt.max)
			}
		}
	}
}
