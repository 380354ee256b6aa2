package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// TaskHeaders route a queue message to its handler and step.
type TaskHeaders struct {
	JobID       string `json:"job_id"`
	Type        string `json:"type"`  // Current step id, or webhook event type
	Route       string `json:"route"` // Task handler route
	BatchPlanID string `json:"batch_plan_id,omitempty"`
	BatchIndex  int    `json:"batch_index,omitempty"`
	Enterprise  bool   `json:"enterprise,omitempty"`
}

// WithType returns a copy of the headers addressed to another step.
func (h TaskHeaders) WithType(step StepID) TaskHeaders {
	h.Type = string(step)
	return h
}

// QueueMessage is the structure stored in the queue.
type QueueMessage struct {
	Headers TaskHeaders     `json:"headers"`
	Payload json.RawMessage `json:"payload"`
}

// Batch is a bounded slice of a larger entity collection.
type Batch struct {
	Entities []json.RawMessage `json:"entities"`
}

// StepPayload is the payload shape shared by unbatched step results and batch chunks.
type StepPayload = Batch
