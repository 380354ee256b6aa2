package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ternarybob/tracksync/internal/models"
)

// QueueManager manages the persistent message queue
type QueueManager interface {
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	// Receive claims the next visible message. The returned func deletes it once processed;
	// a message that is never deleted becomes visible again after the visibility timeout.
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)
	Extend(ctx context.Context, messageID string, duration time.Duration) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// MQ publishes step messages onto the queue.
type MQ interface {
	SendMessage(ctx context.Context, headers models.TaskHeaders, payload json.RawMessage) error
}

// TaskHandler processes one delivered message.
// Returning true acknowledges the message, false leaves it for redelivery.
type TaskHandler interface {
	HandleTask(ctx context.Context, headers models.TaskHeaders, payload json.RawMessage) bool
}

// TaskHandlerFunc adapts a function to TaskHandler
type TaskHandlerFunc func(ctx context.Context, headers models.TaskHeaders, payload json.RawMessage) bool

func (f TaskHandlerFunc) HandleTask(ctx context.Context, headers models.TaskHeaders, payload json.RawMessage) bool {
	return f(ctx, headers, payload)
}

// WorkerPool manages concurrent message processing
type WorkerPool interface {
	RegisterHandler(route string, handler TaskHandler)
	Start() error
	Stop() error
}
