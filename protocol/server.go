package protocol

import (
	"encoding/json"
	"fmt"
)

// ServerMessage is a control message sent from the hub to a client.
type ServerMessage interface {
	Op() string
}

// Channel describes an advertised channel.
type Channel struct {
	ID             ChannelID `json:"id"`
	Topic          string    `json:"topic"`
	Encoding       string    `json:"encoding"`
	SchemaName     string    `json:"schemaName"`
	Schema         string    `json:"schema"`
	SchemaEncoding string    `json:"schemaEncoding,omitempty"`
}

// Parameter is one name/value pair of the parameter store.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"field,omitempty"`
}

// ServerInfo is the first message a client receives after connecting.
type ServerInfo struct {
	Name               string            `json:"name"`
	Capabilities       []string          `json:"capabilities"`
	SupportedEncodings []string          `json:"supportedEncodings"`
	Metadata           map[string]string `json:"metadata"`
	SessionID          string            `json:"sessionId"`
}

// Advertise announces one or more channels.
type Advertise struct {
	Channels []Channel `json:"channels"`
}

// Unadvertise announces that channels are gone.
type Unadvertise struct {
	ChannelIDs []ChannelID `json:"channelIds"`
}

// ParameterValues carries parameter values, either as the connect snapshot or
// as the answer to a get/set request identified by ID.
type ParameterValues struct {
	Parameters []Parameter `json:"parameters"`
	ID         string      `json:"id,omitempty"`
}

func (ServerInfo) Op() string      { return OpServerInfo }
func (Advertise) Op() string       { return OpAdvertise }
func (Unadvertise) Op() string     { return OpUnadvertise }
func (ParameterValues) Op() string { return OpParameterValues }

// MarshalJSON adds the op tag and renders nil collections as empty ones.
func (m ServerInfo) MarshalJSON() ([]byte, error) {
	type alias ServerInfo
	if m.Capabilities == nil {
		m.Capabilities = []string{}
	}
	if m.SupportedEncodings == nil {
		m.SupportedEncodings = []string{}
	}
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	return json.Marshal(struct {
		Op string `json:"op"`
		alias
	}{OpServerInfo, alias(m)})
}

func (m Advertise) MarshalJSON() ([]byte, error) {
	type alias Advertise
	if m.Channels == nil {
		m.Channels = []Channel{}
	}
	return json.Marshal(struct {
		Op string `json:"op"`
		alias
	}{OpAdvertise, alias(m)})
}

func (m Unadvertise) MarshalJSON() ([]byte, error) {
	type alias Unadvertise
	if m.ChannelIDs == nil {
		m.ChannelIDs = []ChannelID{}
	}
	return json.Marshal(struct {
		Op string `json:"op"`
		alias
	}{OpUnadvertise, alias(m)})
}

func (m ParameterValues) MarshalJSON() ([]byte, error) {
	type alias ParameterValues
	if m.Parameters == nil {
		m.Parameters = []Parameter{}
	}
	return json.Marshal(struct {
		Op string `json:"op"`
		alias
	}{OpParameterValues, alias(m)})
}

// EncodeServerMessage serializes a server control message.
func EncodeServerMessage(m ServerMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Op(), err)
	}
	return data, nil
}

// DecodeServerMessage parses a server control message. It is the client-side
// counterpart of EncodeServerMessage.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	op, err := peekOp(data)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpServerInfo:
		return decodeAs[ServerInfo](op, data)
	case OpAdvertise:
		return decodeAs[Advertise](op, data)
	case OpUnadvertise:
		return decodeAs[Unadvertise](op, data)
	case OpParameterValues:
		return decodeAs[ParameterValues](op, data)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOp, op)
	}
}

func peekOp(data []byte) (string, error) {
	var head struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("protocol: decode op: %w", err)
	}
	if head.Op == "" {
		return "", ErrMissingOp
	}
	return head.Op, nil
}

func decodeAs[T ServerMessage](op string, data []byte) (ServerMessage, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", op, err)
	}
	return m, nil
}
