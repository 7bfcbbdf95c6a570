package gossip

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable gossip payload. ID is both its identity and its
// content.
type Message struct {
	ID        string
	Origin    string
	CreatedAt time.Time
}

// NewMessage creates a message with a random id originating at origin.
func NewMessage(origin string, createdAt time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Origin:    origin,
		CreatedAt: createdAt,
	}
}

// Peer is one overlay neighbor and the latency of the link to it.
type Peer struct {
	ID        string
	Addr      string
	LatencyMs float64
}

// Delivery is one inbound deliver call.
type Delivery struct {
	Message  Message
	SenderID string
	SentAt   time.Time
	// LatencyMs is the link latency the sender declared for this hop.
	LatencyMs float64
}

// Ack acknowledges a delivery.
type Ack struct {
	Details string
}
