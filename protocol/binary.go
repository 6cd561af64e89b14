package protocol

import (
	"encoding/binary"
	"fmt"
)

// OpMessageData is the opcode of a server → client message data frame.
const OpMessageData byte = 1

// messageDataHeaderLen is opcode + subscription id + timestamp.
const messageDataHeaderLen = 1 + 4 + 8

// MessageData is one published message addressed to a single subscription.
type MessageData struct {
	SubscriptionID SubscriptionID
	Timestamp      uint64
	Payload        []byte
}

// EncodeMessageData builds a binary data frame. The payload is copied, so the
// caller may reuse its buffer once this returns.
func EncodeMessageData(subID SubscriptionID, timestampNs uint64, payload []byte) []byte {
	buf := make([]byte, messageDataHeaderLen+len(payload))
	buf[0] = OpMessageData
	binary.LittleEndian.PutUint32(buf[1:5], uint32(subID))
	binary.LittleEndian.PutUint64(buf[5:13], timestampNs)
	copy(buf[messageDataHeaderLen:], payload)
	return buf
}

// DecodeMessageData parses a binary data frame produced by EncodeMessageData.
func DecodeMessageData(frame []byte) (MessageData, error) {
	if len(frame) < messageDataHeaderLen {
		return MessageData{}, fmt.Errorf("%w: got %d bytes, need at least %d", ErrShortFrame, len(frame), messageDataHeaderLen)
	}
	if frame[0] != OpMessageData {
		return MessageData{}, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, frame[0])
	}

	payload := make([]byte, len(frame)-messageDataHeaderLen)
	copy(payload, frame[messageDataHeaderLen:])

	return MessageData{
		SubscriptionID: SubscriptionID(binary.LittleEndian.Uint32(frame[1:5])),
		Timestamp:      binary.LittleEndian.Uint64(frame[5:13]),
		Payload:        payload,
	}, nil
}
