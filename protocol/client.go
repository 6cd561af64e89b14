package protocol

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is a control message sent from a client to the hub.
type ClientMessage interface {
	Op() string
}

// Subscription pairs a client-chosen id with an advertised channel.
type Subscription struct {
	ID        SubscriptionID `json:"id"`
	ChannelID ChannelID      `json:"channelId"`
}

// Subscribe requests data for one or more channels.
type Subscribe struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

// Unsubscribe drops subscriptions by their client-chosen ids.
type Unsubscribe struct {
	SubscriptionIDs []SubscriptionID `json:"subscriptionIds"`
}

// GetParameters requests the named parameters; an empty list means all.
type GetParameters struct {
	ParameterNames []string `json:"parameterNames"`
	ID             string   `json:"id,omitempty"`
}

// SetParameters writes parameter values.
type SetParameters struct {
	Parameters map[string]string `json:"parameters"`
	ID         string            `json:"id,omitempty"`
}

func (Subscribe) Op() string     { return OpSubscribe }
func (Unsubscribe) Op() string   { return OpUnsubscribe }
func (GetParameters) Op() string { return OpGetParameters }
func (SetParameters) Op() string { return OpSetParameters }

func (m Subscribe) MarshalJSON() ([]byte, error) {
	type alias Subscribe
	if m.Subscriptions == nil {
		m.Subscriptions = []Subscription{}
	}
	return json.Marshal(struct {
		Op string `json:"op"`
		alias
	}{OpSubscribe, alias(m)})
}

func (m Unsubscribe) MarshalJSON() ([]byte, error) {
	type alias Unsubscribe
	if m.SubscriptionIDs == nil {
		m.SubscriptionIDs = []SubscriptionID{}
	}
	return json.Marshal(struct {
		Op string `json:"op"`
		alias
	}{OpUnsubscribe, alias(m)})
}

func (m GetParameters) MarshalJSON() ([]byte, error) {
	type alias GetParameters
	if m.ParameterNames == nil {
		m.ParameterNames = []string{}
	}
	return json.Marshal(struct {
		Op string `json:"op"`
		alias
	}{OpGetParameters, alias(m)})
}

func (m SetParameters) MarshalJSON() ([]byte, error) {
	type alias SetParameters
	if m.Parameters == nil {
		m.Parameters = map[string]string{}
	}
	return json.Marshal(struct {
		Op string `json:"op"`
		alias
	}{OpSetParameters, alias(m)})
}

// EncodeClientMessage serializes a client control message.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Op(), err)
	}
	return data, nil
}

// DecodeClientMessage parses a text frame received from a client.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	op, err := peekOp(data)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpSubscribe:
		return decodeClientAs[Subscribe](op, data)
	case OpUnsubscribe:
		return decodeClientAs[Unsubscribe](op, data)
	case OpGetParameters:
		return decodeClientAs[GetParameters](op, data)
	case OpSetParameters:
		return decodeClientAs[SetParameters](op, data)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOp, op)
	}
}

func decodeClientAs[T ClientMessage](op string, data []byte) (ClientMessage, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", op, err)
	}
	return m, nil
}
