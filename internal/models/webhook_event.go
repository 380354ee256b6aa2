package models

import "errors"

// EventCategory selects the behavior bound to a webhook event.
type EventCategory string

const (
	EventMergeRequest EventCategory = "merge_request"
	EventIssue        EventCategory = "issue"
	EventIssueComment EventCategory = "issue_comment"
)

// WebhookEvent is a validated provider event as queued by the ingress.
type WebhookEvent struct {
	DeliveryID string        `json:"delivery_id"`
	Provider   Provider      `json:"provider" validate:"required"`
	Enterprise bool          `json:"enterprise"`
	Category   EventCategory `json:"category" validate:"required"`
	Action     string        `json:"action"`
	// EntityID is the provider project/repository id that connections are keyed on.
	EntityID string `json:"entity_id" validate:"required"`
	// InstallationID is the provider account/installation that sent the event.
	InstallationID string            `json:"installation_id,omitempty"`
	Owner          string            `json:"owner"`
	Repository     string            `json:"repository"`
	Number         int               `json:"number"`
	ExternalID     string            `json:"external_id"`
	Title          string            `json:"title,omitempty"`
	Body           string            `json:"body,omitempty"`
	URL            string            `json:"url,omitempty"`
	State          string            `json:"state,omitempty"`
	Labels         []string          `json:"labels,omitempty"`
	Comment        *EventComment     `json:"comment,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// EventComment is the comment carried by a comment lifecycle event.
type EventComment struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	Author string `json:"author,omitempty"`
	URL    string `json:"url,omitempty"`
}

// NormalizedEvent is the descriptor handed to a behavior.
type NormalizedEvent struct {
	Owner      string
	Repository string
	ExternalID string
	EntityID   string
	Number     int
	Action     string
	Event      *WebhookEvent
}

// Normalize builds the behavior descriptor of the event.
func (e *WebhookEvent) Normalize() NormalizedEvent {
	return NormalizedEvent{
		Owner:      e.Owner,
		Repository: e.Repository,
		ExternalID: e.ExternalID,
		EntityID:   e.EntityID,
		Number:     e.Number,
		Action:     e.Action,
		Event:      e,
	}
}

// Repo returns the repository the event belongs to.
func (e *WebhookEvent) Repo() RepoRef {
	return RepoRef{Owner: e.Owner, Name: e.Repository, ID: e.EntityID}
}

// ErrIgnoredEvent marks a provider event type the ingress does not handle.
var ErrIgnoredEvent = errors.New("webhook event ignored")

// ErrInvalidSignature marks a webhook whose signature or token does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")
