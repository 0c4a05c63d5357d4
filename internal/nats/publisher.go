package nats

import (
	"context"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
)

// Publisher publishes call lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event *model.CallEvent) error
}

// NopPublisher drops every event. Used when the event bus is disabled.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, *model.CallEvent) error {
	return nil
}

var (
	_ Publisher = (*StreamManager)(nil)
	_ Publisher = NopPublisher{}
)
