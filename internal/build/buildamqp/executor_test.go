package buildamqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/forge/internal/amqptest"
	"github.com/k11v/forge/internal/amqputil"
	"github.com/k11v/forge/internal/build"
)

func TestExecutor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	connectionString, teardown, err := amqptest.Setup(ctx)
	t.Cleanup(func() {
		if err := teardown(); err != nil {
			t.Errorf("didn't want %q", err)
		}
	})
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}

	t.Run("submits jobs", func(t *testing.T) {
		job := &build.Job{
			BuildID:         uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000"),
			RecordID:        uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000"),
			Owner:           "alice",
			InfraFileSetID:  uuid.MustParse("cccccccc-0000-0000-0000-000000000000"),
			Hash:            "sha256:00",
			AppCodeVersions: []build.AppCodeVersion{{Repo: "org/api", Branch: "main", Commit: "c1"}},
		}
		if err := NewExecutor(connectionString).SubmitBuild(ctx, job); err != nil {
			t.Fatalf("didn't want %q", err)
		}

		var got jobMessage
		m := receive(t, connectionString, QueueBuildRequested)
		if err := json.Unmarshal(m.Body, &got); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if diff := cmp.Diff(*newJobMessage(job), got); diff != "" {
			t.Fatalf("job mismatch (-want +got):\n%s", diff)
		}
		if got, want := m.MessageId, job.BuildID.String(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})

	t.Run("publishes events", func(t *testing.T) {
		startedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		r := &build.Record{
			ID:    uuid.MustParse("dddddddd-0000-0000-0000-000000000000"),
			Owner: "alice",
			Build: build.BuildState{ID: uuid.MustParse("eeeeeeee-0000-0000-0000-000000000000"), StartedAt: &startedAt},
		}
		err := NewNotifier(connectionString).Notify(ctx, &build.Event{Type: build.EventBuildStarted, Record: r})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		var got eventMessage
		m := receive(t, connectionString, QueueBuildEvents)
		if err := json.Unmarshal(m.Body, &got); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := got.State, string(build.StateStarted); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
		if got, want := got.RecordID, r.ID; got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	})
}

func receive(t *testing.T, connectionString, queue string) *amqp091.Delivery {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var received *amqp091.Delivery
	err := amqputil.NewClient(connectionString, QueueParams(queue)).Consume(ctx, func(ctx context.Context, m *amqp091.Delivery) {
		if received == nil {
			received = m
			_ = m.Ack(false)
		}
		cancel()
	})
	if received == nil {
		t.Fatalf("got no message: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Logf("consume returned %v", err)
	}
	return received
}
