package buildamqp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/forge/internal/build"
)

type ack struct {
	Acked   bool
	Requeue bool
}

type SpyAcknowledger struct {
	Acks []ack
}

func (a *SpyAcknowledger) Ack(tag uint64, multiple bool) error {
	a.Acks = append(a.Acks, ack{Acked: true})
	return nil
}

func (a *SpyAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.Acks = append(a.Acks, ack{Requeue: requeue})
	return nil
}

func (a *SpyAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type StubReporter struct {
	Err error

	Attached  *build.AttachContainerParams
	Completed *build.ReportBuildCompletedParams
	Failed    *build.ReportBuildFailedParams
}

func (r *StubReporter) AttachContainer(ctx context.Context, params *build.AttachContainerParams) ([]*build.Record, error) {
	r.Attached = params
	return nil, r.Err
}

func (r *StubReporter) ReportBuildCompleted(ctx context.Context, params *build.ReportBuildCompletedParams) ([]*build.Record, error) {
	r.Completed = params
	return nil, r.Err
}

func (r *StubReporter) ReportBuildFailed(ctx context.Context, params *build.ReportBuildFailedParams) ([]*build.Record, error) {
	r.Failed = params
	return nil, r.Err
}

func handle(t *testing.T, reporter *StubReporter, body string) ack {
	t.Helper()

	acknowledger := &SpyAcknowledger{}
	h := &Handler{Reporter: reporter}
	h.Handle(context.Background(), &amqp091.Delivery{
		Acknowledger: acknowledger,
		MessageId:    "m1",
		Body:         []byte(body),
	})

	if got, want := len(acknowledger.Acks), 1; got != want {
		t.Fatalf("got %d acknowledgements, want %d", got, want)
	}
	return acknowledger.Acks[0]
}

func TestHandler(t *testing.T) {
	buildID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")

	t.Run("attaches a container", func(t *testing.T) {
		reporter := &StubReporter{}
		got := handle(t, reporter, fmt.Sprintf(`{"type":"container_attached","build_id":%q,"container_id":"c1"}`, buildID))

		if want := (ack{Acked: true}); got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
		if reporter.Attached == nil || reporter.Attached.BuildID != buildID || reporter.Attached.ContainerID != "c1" {
			t.Fatalf("got %+v, want build %s and container c1", reporter.Attached, buildID)
		}
	})

	t.Run("completes a build", func(t *testing.T) {
		reporter := &StubReporter{}
		got := handle(t, reporter, `{"type":"completed","container_id":"c1","docker_image":"img","docker_tag":"v1","log":"ok"}`)

		if want := (ack{Acked: true}); got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
		want := &build.ReportBuildCompletedParams{ContainerID: "c1", DockerImage: "img", DockerTag: "v1", Log: "ok"}
		if reporter.Completed == nil || *reporter.Completed != *want {
			t.Fatalf("got %+v, want %+v", reporter.Completed, want)
		}
	})

	t.Run("fails a build", func(t *testing.T) {
		reporter := &StubReporter{}
		handle(t, reporter, `{"type":"failed","container_id":"c1","error":{"message":"exit status 1","stack":"trace"}}`)

		if reporter.Failed == nil {
			t.Fatal("got no failure report")
		}
		if got, want := reporter.Failed.Error, (build.BuildError{Message: "exit status 1", Stack: "trace"}); got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	})

	t.Run("drops malformed messages", func(t *testing.T) {
		bodies := map[string]string{
			"not json":         `{`,
			"unknown field":    `{"type":"completed","container_id":"c1","extra":1}`,
			"multiple values":  `{"type":"completed","container_id":"c1"} {}`,
			"missing type":     `{"container_id":"c1"}`,
			"missing build id": `{"type":"container_attached","container_id":"c1"}`,
			"unknown type":     `{"type":"exploded","container_id":"c1"}`,
		}
		for name, body := range bodies {
			t.Run(name, func(t *testing.T) {
				got := handle(t, &StubReporter{}, body)
				if want := (ack{}); got != want {
					t.Fatalf("got %+v, want %+v", got, want)
				}
			})
		}
	})

	t.Run("acknowledges reports that can't apply", func(t *testing.T) {
		for _, err := range []error{build.ErrNotFound, build.ErrAlreadyCompleted} {
			got := handle(t, &StubReporter{Err: err}, `{"type":"completed","container_id":"c1","docker_image":"img"}`)
			if want := (ack{Acked: true}); got != want {
				t.Fatalf("got %+v for %v, want %+v", got, err, want)
			}
		}
	})

	t.Run("drops reports violating integrity", func(t *testing.T) {
		got := handle(t, &StubReporter{Err: build.ErrMissingImage}, `{"type":"completed","container_id":"c1"}`)
		if want := (ack{}); got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	})

	t.Run("requeues on transient errors", func(t *testing.T) {
		got := handle(t, &StubReporter{Err: errors.New("connection reset")}, `{"type":"completed","container_id":"c1","docker_image":"img"}`)
		if want := (ack{Requeue: true}); got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	})
}
