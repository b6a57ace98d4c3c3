package build

import (
	"context"
	"errors"
)

type EventType string

const (
	EventBuildStarted   EventType = "build_started"
	EventBuildCompleted EventType = "build_completed"
)

// Event is emitted at most once per transition per record.
type Event struct {
	Type   EventType
	Record *Record
}

type Notifier interface {
	Notify(ctx context.Context, event *Event) error
}

// MultiNotifier delivers an event to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event *Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
