package bus

import (
	"context"

	"github.com/pulsenote/pulsenote-backend/internal/sse"
)

// Bus mirrors hub publishes across process instances so a viewer connected to
// a different instance still receives a record's events.
type Bus interface {
	Publish(ctx context.Context, msg sse.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m sse.SSEMessage)) error
	Close() error
}
