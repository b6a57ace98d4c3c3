// Package buildredis pushes record events to Redis for live UI updates.
package buildredis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/k11v/forge/internal/build"
)

var _ build.Notifier = (*Notifier)(nil)

const stateTTL = 24 * time.Hour

// Notifier publishes each event on the owner's channel and keeps the
// latest state of each record under a key with a TTL.
type Notifier struct {
	client *redis.Client
}

// NewNotifier connects using a URL such as redis://localhost:6379/0.
func NewNotifier(connectionString string) (*Notifier, error) {
	opt, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("buildredis: %w", err)
	}
	return &Notifier{client: redis.NewClient(opt)}, nil
}

func NewNotifierWithClient(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) Close() error {
	return n.client.Close()
}

type eventPayload struct {
	Type     string    `json:"type"`
	RecordID uuid.UUID `json:"record_id"`
	BuildID  uuid.UUID `json:"build_id"`
	State    string    `json:"state"`
}

func (n *Notifier) Notify(ctx context.Context, event *build.Event) error {
	r := event.Record
	payload, err := json.Marshal(&eventPayload{
		Type:     string(event.Type),
		RecordID: r.ID,
		BuildID:  r.Build.ID,
		State:    string(r.State()),
	})
	if err != nil {
		return fmt.Errorf("buildredis: %w", err)
	}

	pipe := n.client.TxPipeline()
	pipe.Set(ctx, StateKey(r.ID), string(r.State()), stateTTL)
	pipe.Publish(ctx, Channel(r.Owner), payload)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buildredis: %w", err)
	}
	return nil
}

// Channel is the pub/sub channel carrying the owner's events.
func Channel(owner string) string {
	return "forge:events:" + owner
}

// StateKey holds the latest state published for a record.
func StateKey(recordID uuid.UUID) string {
	return "forge:records:" + recordID.String() + ":state"
}
