package buildamqp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/forge/internal/amqputil"
	"github.com/k11v/forge/internal/build"
)

var _ build.Executor = (*Executor)(nil)

// Executor submits jobs to the image builder through QueueBuildRequested.
type Executor struct {
	client *amqputil.Client
}

func NewExecutor(connectionString string) *Executor {
	return &Executor{client: amqputil.NewClient(connectionString, QueueParams(QueueBuildRequested))}
}

func (e *Executor) SubmitBuild(ctx context.Context, job *build.Job) error {
	return publishJSON(ctx, e.client, job.BuildID.String(), newJobMessage(job))
}

func publishJSON(ctx context.Context, client *amqputil.Client, messageID string, v any) error {
	body := new(bytes.Buffer)
	if err := json.NewEncoder(body).Encode(v); err != nil {
		return fmt.Errorf("buildamqp: %w", err)
	}

	err := client.Publish(ctx, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    messageID,
		Body:         body.Bytes(),
	})
	if err != nil {
		return fmt.Errorf("buildamqp: %w", err)
	}
	return nil
}
