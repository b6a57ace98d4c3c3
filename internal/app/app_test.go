package app

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/k11v/forge/internal/amqptest"
	"github.com/k11v/forge/internal/amqputil"
	"github.com/k11v/forge/internal/build/buildamqp"
	"github.com/k11v/forge/internal/postgrestest"
	"github.com/k11v/forge/internal/s3test"
	"github.com/k11v/forge/internal/server"
)

func TestStack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}

	environ, teardown, err := SetupStack(ctx)
	t.Cleanup(func() {
		if err := teardown(); err != nil {
			t.Errorf("didn't want %q", err)
		}
	})
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}
	environ = append(environ, "FORGE_SERVER_JWT_VERIFICATION_KEY="+base64.StdEncoding.EncodeToString(publicKey))

	cfg, err := ParseConfig(environ)
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}
	if err = Setup(ctx, cfg); err != nil {
		t.Fatalf("didn't want %q", err)
	}

	log := NewLogger(io.Discard, false)
	service, closeService, err := NewService(ctx, cfg, log)
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}
	t.Cleanup(func() { _ = closeService() })

	srv, err := server.New(&cfg.Server, log, service)
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(privateKey)
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}

	call := func(t *testing.T, method, path, body string, wantStatus int, v any) {
		t.Helper()
		req, err := http.NewRequestWithContext(ctx, method, ts.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != wantStatus {
			b, _ := io.ReadAll(resp.Body)
			t.Fatalf("got %d, want %d: %s", resp.StatusCode, wantStatus, b)
		}
		if v != nil {
			if err = json.NewDecoder(resp.Body).Decode(v); err != nil {
				t.Fatalf("didn't want %q", err)
			}
		}
	}

	t.Run("builds a record and applies executor reports", func(t *testing.T) {
		var set struct {
			ID uuid.UUID `json:"id"`
		}
		call(t, http.MethodPost, "/infra-file-sets", "", http.StatusCreated, &set)
		call(t, http.MethodPut, "/infra-file-sets/"+set.ID.String()+"/files/Dockerfile", "FROM alpine:3.20\n", http.StatusOK, nil)

		var record struct {
			ID uuid.UUID `json:"id"`
		}
		call(t, http.MethodPost, "/records", `{"infra_file_set_id":"`+set.ID.String()+`","app_code_versions":[]}`, http.StatusCreated, &record)
		call(t, http.MethodPost, "/records/"+record.ID.String()+"/build", "", http.StatusCreated, nil)

		var job struct {
			BuildID  uuid.UUID `json:"build_id"`
			RecordID uuid.UUID `json:"record_id"`
		}
		consumeOne(t, cfg.AMQPConnectionString(), buildamqp.QueueBuildRequested, func(m *amqp091.Delivery) {
			if err := json.Unmarshal(m.Body, &job); err != nil {
				t.Errorf("didn't want %q", err)
			}
		})
		if job.RecordID != record.ID {
			t.Fatalf("got record %s, want %s", job.RecordID, record.ID)
		}

		reported := amqputil.NewClient(cfg.AMQPConnectionString(), buildamqp.QueueParams(buildamqp.QueueBuildReported))
		for _, body := range []string{
			fmt.Sprintf(`{"type":"container_attached","build_id":%q,"container_id":"c1"}`, job.BuildID),
			`{"type":"completed","container_id":"c1","docker_image":"registry.local/forge/api","docker_tag":"latest"}`,
		} {
			err := reported.Publish(ctx, amqp091.Publishing{ContentType: "application/json", Body: []byte(body)})
			if err != nil {
				t.Fatalf("didn't want %q", err)
			}
		}

		handler := &buildamqp.Handler{Reporter: service, Log: log}
		consumeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handled := 0
		err := reported.Consume(consumeCtx, func(ctx context.Context, m *amqp091.Delivery) {
			handler.Handle(ctx, m)
			if handled++; handled == 2 {
				cancel()
			}
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want %v", err, context.Canceled)
		}

		var got struct {
			Build struct {
				State       string `json:"state"`
				DockerImage string `json:"docker_image"`
			} `json:"build"`
		}
		call(t, http.MethodGet, "/records/"+record.ID.String(), "", http.StatusOK, &got)
		if got, want := got.Build.State, "succeeded"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
		if got, want := got.Build.DockerImage, "registry.local/forge/api"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})
}

func TestInitTracer(t *testing.T) {
	out := new(bytes.Buffer)
	shutdown, err := InitTracer(out, "forge-test")
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}

	_, span := otel.Tracer("github.com/k11v/forge/internal/app").Start(context.Background(), "test span")
	span.End()
	if err = shutdown(context.Background()); err != nil {
		t.Fatalf("didn't want %q", err)
	}

	if !strings.Contains(out.String(), "test span") {
		t.Fatalf("got %q, want it to contain the span", out.String())
	}
}

func consumeOne(t *testing.T, connectionString, queue string, f func(m *amqp091.Delivery)) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	received := false
	_ = amqputil.NewClient(connectionString, buildamqp.QueueParams(queue)).Consume(ctx, func(ctx context.Context, m *amqp091.Delivery) {
		if !received {
			received = true
			f(m)
			_ = m.Ack(false)
		}
		cancel()
	})
	if !received {
		t.Fatalf("got no message on %s", queue)
	}
}

// SetupStack starts PostgreSQL, RabbitMQ and MinIO and returns the environment pointing at them.
func SetupStack(ctx context.Context) (environ []string, teardown func() error, err error) {
	teardownFuncs := make([]func() error, 0)
	teardown = func() error {
		var errs []error
		for i := len(teardownFuncs) - 1; i >= 0; i-- {
			errs = append(errs, teardownFuncs[i]())
		}
		return errors.Join(errs...)
	}

	postgresConnectionString, postgresTeardown, err := postgrestest.Setup(ctx)
	teardownFuncs = append(teardownFuncs, postgresTeardown)
	if err != nil {
		return nil, teardown, err
	}

	amqpConnectionString, amqpTeardown, err := amqptest.Setup(ctx)
	teardownFuncs = append(teardownFuncs, amqpTeardown)
	if err != nil {
		return nil, teardown, err
	}

	s3ConnectionString, s3Teardown, err := s3test.Setup(ctx)
	teardownFuncs = append(teardownFuncs, s3Teardown)
	if err != nil {
		return nil, teardown, err
	}

	environ = []string{
		"FORGE_POSTGRES_CONNECTION_STRING=" + postgresConnectionString,
		"FORGE_AMQP_CONNECTION_STRING=" + amqpConnectionString,
		"FORGE_S3_CONNECTION_STRING=" + s3ConnectionString,
	}
	return environ, teardown, nil
}
