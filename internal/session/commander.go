package session

import (
	"context"
	"fmt"

	"github.com/edgewatch/edgewatch-core/internal/bus"
	"github.com/edgewatch/edgewatch-core/internal/protocol"
)

// Commander publishes frames to devices through the bus. Every live
// session of the device, on any instance sharing the bus, writes the
// frame to its connection.
type Commander struct {
	bus bus.Bus
}

// NewCommander creates a commander publishing on b.
func NewCommander(b bus.Bus) *Commander {
	return &Commander{bus: b}
}

// Send publishes {message, message_type} to deviceID. An empty
// messageType is sent as "operation".
func (c *Commander) Send(ctx context.Context, deviceID string, message any, messageType protocol.OutboundType) error {
	data, err := protocol.Outbound{Message: message, MessageType: messageType}.Encode()
	if err != nil {
		return err
	}
	if err := c.bus.Publish(ctx, protocol.DeviceTopic(deviceID), data); err != nil {
		return fmt.Errorf("sending to device %s: %w", deviceID, err)
	}
	return nil
}

// EnableFeature asks the device to switch feature on.
func (c *Commander) EnableFeature(ctx context.Context, deviceID string, feature protocol.OperationType) error {
	return c.operation(ctx, deviceID, protocol.OperationEnable, feature)
}

// DisableFeature asks the device to switch feature off.
func (c *Commander) DisableFeature(ctx context.Context, deviceID string, feature protocol.OperationType) error {
	return c.operation(ctx, deviceID, protocol.OperationDisable, feature)
}

// Restart asks the device to reboot.
func (c *Commander) Restart(ctx context.Context, deviceID string) error {
	return c.operation(ctx, deviceID, protocol.OperationEnable, protocol.OperationRestart)
}

func (c *Commander) operation(ctx context.Context, deviceID string, op protocol.Operation, opType protocol.OperationType) error {
	cmd := protocol.Command{Operation: op, OperationType: opType}
	return c.Send(ctx, deviceID, cmd, protocol.OutboundOperation)
}
