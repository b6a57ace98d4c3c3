package buildamqp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/forge/internal/build"
)

// Reporter is the part of build.Service the handler drives.
type Reporter interface {
	AttachContainer(ctx context.Context, params *build.AttachContainerParams) ([]*build.Record, error)
	ReportBuildCompleted(ctx context.Context, params *build.ReportBuildCompletedParams) ([]*build.Record, error)
	ReportBuildFailed(ctx context.Context, params *build.ReportBuildFailedParams) ([]*build.Record, error)
}

// Handler applies executor reports from QueueBuildReported.
type Handler struct {
	Reporter Reporter     // required
	Log      *slog.Logger // default: slog.Default()
}

// Handle acks a message once its report is applied or can never be applied.
// Malformed messages are dropped and transient failures are requeued.
func (h *Handler) Handle(ctx context.Context, m *amqp091.Delivery) {
	log := h.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "buildamqp", "message_id", m.MessageId)

	err := m.Headers.Validate()
	if err != nil {
		log.Error("invalid header", "error", err)
		_ = m.Nack(false, false)
		return
	}

	var msg reportMessage
	dec := json.NewDecoder(bytes.NewReader(m.Body))
	dec.DisallowUnknownFields()
	if err = dec.Decode(&msg); err != nil {
		log.Error("invalid body", "error", err)
		_ = m.Nack(false, false)
		return
	}
	if dec.More() {
		log.Error("invalid body", "error", errors.New("multiple top-level values"))
		_ = m.Nack(false, false)
		return
	}

	if err = h.apply(ctx, &msg); err != nil {
		switch {
		case errors.Is(err, build.ErrInvalid), errors.Is(err, build.ErrIntegrity):
			log.Error("rejected report", "error", err)
			_ = m.Nack(false, false)
		case errors.Is(err, build.ErrNotFound), errors.Is(err, build.ErrConflict):
			log.Warn("ignored report", "error", err)
			_ = m.Ack(false)
		default:
			log.Error("didn't apply report", "error", err)
			_ = m.Nack(false, true)
		}
		return
	}

	_ = m.Ack(false)
}

func (h *Handler) apply(ctx context.Context, msg *reportMessage) error {
	// Body field type.
	if msg.Type == nil {
		return fmt.Errorf("missing type body field: %w", build.ErrInvalid)
	}

	// Body field container_id.
	if msg.ContainerID == nil || *msg.ContainerID == "" {
		return fmt.Errorf("missing container_id body field: %w", build.ErrInvalid)
	}

	switch *msg.Type {
	case ReportContainerAttached:
		// Body field build_id.
		if msg.BuildID == nil {
			return fmt.Errorf("missing build_id body field: %w", build.ErrInvalid)
		}
		_, err := h.Reporter.AttachContainer(ctx, &build.AttachContainerParams{
			BuildID:     *msg.BuildID,
			ContainerID: *msg.ContainerID,
		})
		return err
	case ReportCompleted:
		_, err := h.Reporter.ReportBuildCompleted(ctx, &build.ReportBuildCompletedParams{
			ContainerID: *msg.ContainerID,
			DockerImage: msg.DockerImage,
			DockerTag:   msg.DockerTag,
			Log:         msg.Log,
		})
		return err
	case ReportFailed:
		var buildErr build.BuildError
		if msg.Error != nil {
			buildErr = build.BuildError{Message: msg.Error.Message, Stack: msg.Error.Stack}
		}
		_, err := h.Reporter.ReportBuildFailed(ctx, &build.ReportBuildFailedParams{
			ContainerID: *msg.ContainerID,
			Error:       buildErr,
			Log:         msg.Log,
		})
		return err
	default:
		return fmt.Errorf("unknown type %q: %w", *msg.Type, build.ErrInvalid)
	}
}
