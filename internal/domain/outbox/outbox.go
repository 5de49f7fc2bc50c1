package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/kitwatch/notifier/internal/domain/notification"
)

// Payload is the original message plus the diagnostics of the delivery
// failure that sent it to the outbox.
type Payload struct {
	notification.Message
	FailureReason   string `json:"failureReason,omitempty"`
	FailureStatus   int    `json:"failureStatus,omitempty"`
	FailureResponse string `json:"failureResponse,omitempty"`
}

// Entry is one message awaiting redelivery. Attempts counts flush passes
// only, not the inline retries that preceded enqueueing.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
	Attempts  int       `json:"attempts"`
}

// NewEntry creates an entry with a time-ordered id and zero attempts.
func NewEntry(payload Payload) *Entry {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Entry{
		ID:        id.String(),
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
		Attempts:  0,
	}
}
