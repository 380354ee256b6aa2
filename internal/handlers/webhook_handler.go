package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// WebhookParser validates and decodes one provider delivery.
type WebhookParser func(r *http.Request, secret string, enterprise bool) (*models.WebhookEvent, error)

// WebhookSource is one provider endpoint under /webhooks/.
type WebhookSource struct {
	Name       string
	Parse      WebhookParser
	Secret     string
	Enterprise bool
}

// WebhookHandler validates provider deliveries and enqueues them for the webhook router.
type WebhookHandler struct {
	sources      map[string]WebhookSource
	mq           interfaces.MQ
	kv           interfaces.KeyValueStorage
	route        string
	dedupTTL     time.Duration
	maxBodyBytes int64
	logger       arbor.ILogger
}

// NewWebhookHandler creates the webhook ingress. A nil kv disables delivery dedup.
func NewWebhookHandler(
	sources []WebhookSource,
	mq interfaces.MQ,
	kv interfaces.KeyValueStorage,
	route string,
	dedupTTL time.Duration,
	maxBodyBytes int64,
	logger arbor.ILogger,
) *WebhookHandler {
	bySource := make(map[string]WebhookSource, len(sources))
	for _, source := range sources {
		bySource[source.Name] = source
	}
	return &WebhookHandler{
		sources:      bySource,
		mq:           mq,
		kv:           kv,
		route:        route,
		dedupTTL:     dedupTTL,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// ReceiveHandler handles POST /webhooks/{source}
func (h *WebhookHandler) ReceiveHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhooks/"), "/")
	source, ok := h.sources[name]
	if !ok {
		WriteError(w, http.StatusNotFound, "Unknown webhook source")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	event, err := source.Parse(r, source.Secret, source.Enterprise)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, models.ErrInvalidSignature):
			h.logger.Warn().Err(err).Str("source", name).Str("remote", r.RemoteAddr).Msg("Rejected webhook")
			WriteError(w, http.StatusUnauthorized, "Invalid signature")
		case errors.Is(err, models.ErrIgnoredEvent):
			h.logger.Debug().Str("source", name).Msg(err.Error())
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		case errors.As(err, &tooLarge):
			WriteError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		default:
			h.logger.Warn().Err(err).Str("source", name).Msg("Malformed webhook")
			WriteError(w, http.StatusBadRequest, "Malformed webhook payload")
		}
		return
	}

	ctx := r.Context()
	dedupKey := ""
	if h.kv != nil && event.DeliveryID != "" {
		dedupKey = "webhook:" + name + ":" + event.DeliveryID
		created, err := h.kv.SetIfAbsent(ctx, dedupKey, string(event.Category), h.dedupTTL)
		if err != nil {
			// Redelivery is tolerated downstream; a dedup outage must not drop events.
			h.logger.Warn().Err(err).Str("delivery_id", event.DeliveryID).Msg("Webhook dedup unavailable")
			dedupKey = ""
		} else if !created {
			h.logger.Debug().Str("delivery_id", event.DeliveryID).Msg("Duplicate webhook delivery")
			WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "delivery_id": event.DeliveryID})
			return
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to encode event")
		return
	}

	headers := models.TaskHeaders{
		Type:       string(event.Category),
		Route:      h.route,
		Enterprise: event.Enterprise,
	}
	if err := h.mq.SendMessage(ctx, headers, payload); err != nil {
		h.logger.Error().Err(err).Str("delivery_id", event.DeliveryID).Msg("Failed to enqueue webhook")
		if dedupKey != "" {
			if delErr := h.kv.Delete(ctx, dedupKey); delErr != nil {
				h.logger.Warn().Err(delErr).Str("delivery_id", event.DeliveryID).Msg("Failed to release dedup key")
			}
		}
		WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue webhook")
		return
	}

	h.logger.Info().
		Str("source", name).
		Str("delivery_id", event.DeliveryID).
		Str("category", string(event.Category)).
		Str("action", event.Action).
		Str("repo", event.Repo().FullName()).
		Msg("Webhook accepted")

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "delivery_id": event.DeliveryID})
}
