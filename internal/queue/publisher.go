package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// Publisher sends step messages through a queue manager
type Publisher struct {
	queueMgr interfaces.QueueManager
	logger   arbor.ILogger
}

// NewPublisher creates a publisher over the given queue manager
func NewPublisher(queueMgr interfaces.QueueManager, logger arbor.ILogger) *Publisher {
	return &Publisher{queueMgr: queueMgr, logger: logger}
}

// SendMessage enqueues one message addressed by its headers
func (p *Publisher) SendMessage(ctx context.Context, headers models.TaskHeaders, payload json.RawMessage) error {
	if headers.Route == "" {
		return fmt.Errorf("message for job %s has no route", headers.JobID)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	if err := p.queueMgr.Enqueue(ctx, models.QueueMessage{Headers: headers, Payload: payload}); err != nil {
		return fmt.Errorf("failed to send %s message for job %s: %w", headers.Type, headers.JobID, err)
	}

	p.logger.Debug().
		Str("job_id", headers.JobID).
		Str("route", headers.Route).
		Str("type", headers.Type).
		Msg("Message sent")
	return nil
}
