// Package protocol implements the foxglove.websocket.v1 wire format spoken
// between the hub and visualization clients.
//
// Control messages are JSON objects discriminated by an "op" field. Message
// data is sent as little-endian binary frames:
//
//	[1 byte opcode=1][4 bytes subscription id][8 bytes timestamp ns][payload]
//
// Everything in this package is stateless; the hub decides what to send.
package protocol

import "errors"

// Subprotocol is the WebSocket subprotocol negotiated with clients.
const Subprotocol = "foxglove.websocket.v1"

// CapabilityParameters tells clients the server answers parameter requests.
const CapabilityParameters = "parameters"

// ChannelID is the hub-assigned channel identifier.
type ChannelID uint64

// SubscriptionID is chosen by the client and echoed on every data frame.
type SubscriptionID uint32

// Server → client ops.
const (
	OpServerInfo      = "serverInfo"
	OpAdvertise       = "advertise"
	OpUnadvertise     = "unadvertise"
	OpParameterValues = "parameterValues"
)

// Client → server ops.
const (
	OpSubscribe     = "subscribe"
	OpUnsubscribe   = "unsubscribe"
	OpGetParameters = "getParameters"
	OpSetParameters = "setParameters"
)

var (
	// ErrUnknownOp is returned when a control message carries an op this
	// package does not know.
	ErrUnknownOp = errors.New("protocol: unknown op")

	// ErrMissingOp is returned when a control message has no op field.
	ErrMissingOp = errors.New("protocol: missing op")

	// ErrShortFrame is returned when a binary frame is shorter than its header.
	ErrShortFrame = errors.New("protocol: binary frame too short")

	// ErrUnknownOpcode is returned for binary frames with an unexpected opcode.
	ErrUnknownOpcode = errors.New("protocol: unknown binary opcode")
)
