package protocol

import (
	"encoding/json"
	"fmt"
)

// OutboundType discriminates frames sent to a device.
type OutboundType string

const (
	OutboundOperation OutboundType = "operation"
	OutboundInit      OutboundType = "init"
)

// ClosePolicyViolation is the websocket close code used when a device is
// refused admission or breaks protocol mid-session.
const ClosePolicyViolation = 3003

// Outbound is a frame written to the device.
type Outbound struct {
	Message     any          `json:"message"`
	MessageType OutboundType `json:"message_type"`
}

// Command is the payload of init and feature operation frames.
type Command struct {
	Operation     Operation     `json:"operation"`
	OperationType OperationType `json:"operation_type"`
}

// InitFrame tells a freshly connected device to enable a feature.
func InitFrame(feature OperationType) Outbound {
	return Outbound{
		Message:     Command{Operation: OperationEnable, OperationType: feature},
		MessageType: OutboundInit,
	}
}

// Encode marshals the frame, defaulting an empty type to "operation".
func (o Outbound) Encode() ([]byte, error) {
	if o.MessageType == "" {
		o.MessageType = OutboundOperation
	}
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encoding outbound frame: %w", err)
	}
	return data, nil
}

// NormalizeOutbound re-encodes a payload published to a device topic as
// an Outbound frame. Publishers may omit message_type; a payload that is
// not an object with a message field becomes the message itself.
func NormalizeOutbound(payload []byte) ([]byte, error) {
	var wrapped struct {
		Message     json.RawMessage `json:"message"`
		MessageType OutboundType    `json:"message_type"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Message != nil {
		return Outbound{Message: wrapped.Message, MessageType: wrapped.MessageType}.Encode()
	}

	if !json.Valid(payload) {
		return Outbound{Message: string(payload)}.Encode()
	}
	return Outbound{Message: json.RawMessage(payload)}.Encode()
}
