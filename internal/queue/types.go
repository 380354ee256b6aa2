package queue

import (
	"time"

	"github.com/ternarybob/tracksync/internal/models"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = models.ErrNoMessage

// Message is the body carried by every queue backend.
type Message = models.QueueMessage

// envelope represents the internal structure stored by a queue backend
type envelope struct {
	ID           string    `json:"id"`
	Body         Message   `json:"body"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAt    time.Time `json:"visible_at"`
	ReceiveCount int       `json:"receive_count"`
}
