// Package relay connects the hub to an external Redis message bus: channels
// published on Redis are forwarded to hub clients, and client presence is
// published back.
package relay

import (
	"context"
	"encoding/json"
)

// Presence event types published on the presence channel.
const (
	EventClientConnected    = "client_connected"
	EventClientDisconnected = "client_disconnected"
)

// Message is the envelope exchanged over the message bus.
type Message struct {
	Type     string `json:"type,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	// Timestamp is in nanoseconds since the Unix epoch.
	Timestamp uint64 `json:"timestamp,omitempty"`
	// Data is forwarded to hub clients verbatim as the message payload.
	Data json.RawMessage `json:"data,omitempty"`
}

type MessageBroker interface {
	Publish(ctx context.Context, channel string, message Message) error

	Subscribe(ctx context.Context, channel string) (<-chan Message, error)

	Close() error
}

// MarshalBinary implements encoding.BinaryMarshaler interface
func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler interface
func (m *Message) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, m)
}
