package buildamqp

import (
	"context"

	"github.com/k11v/forge/internal/amqputil"
	"github.com/k11v/forge/internal/build"
)

var _ build.Notifier = (*Notifier)(nil)

// Notifier publishes record events to QueueBuildEvents for downstream consumers.
type Notifier struct {
	client *amqputil.Client
}

func NewNotifier(connectionString string) *Notifier {
	return &Notifier{client: amqputil.NewClient(connectionString, QueueParams(QueueBuildEvents))}
}

func (n *Notifier) Notify(ctx context.Context, event *build.Event) error {
	return publishJSON(ctx, n.client, string(event.Type)+":"+event.Record.ID.String(), newEventMessage(event))
}
