package webhooks

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// TaskHandler consumes queued webhook events.
type TaskHandler struct {
	router             *Router
	redeliverOnFailure bool
	validate           *validator.Validate
	logger             arbor.ILogger
}

// NewTaskHandler creates the webhook task handler. With redeliverOnFailure
// unset a failed behavior is still acknowledged.
func NewTaskHandler(router *Router, redeliverOnFailure bool, logger arbor.ILogger) *TaskHandler {
	return &TaskHandler{
		router:             router,
		redeliverOnFailure: redeliverOnFailure,
		validate:           validator.New(),
		logger:             logger,
	}
}

func (h *TaskHandler) HandleTask(ctx context.Context, headers models.TaskHeaders, payload json.RawMessage) bool {
	var event models.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error().Err(err).Str("type", headers.Type).Msg("Undecodable webhook event, dropping")
		return true
	}
	if err := h.validate.Struct(&event); err != nil {
		h.logger.Error().Err(err).Str("delivery_id", event.DeliveryID).Msg("Invalid webhook event, dropping")
		return true
	}

	if err := h.router.Route(ctx, &event); err != nil {
		h.logger.Error().
			Err(err).
			Str("delivery_id", event.DeliveryID).
			Str("provider", string(event.Provider)).
			Str("category", string(event.Category)).
			Bool("redeliver", h.redeliverOnFailure).
			Msg("Webhook handling failed")
		return !h.redeliverOnFailure
	}
	return true
}

// Ensure interface compliance
var _ interfaces.TaskHandler = (*TaskHandler)(nil)
