package messaging

import (
	"context"
	"encoding/json"
	"time"
)

// Broker publishes domain events drained from the outbox.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Message is the envelope put on the wire. Payloads never carry decrypted PII.
type Message struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID int64           `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
