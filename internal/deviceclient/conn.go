package deviceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgewatch/edgewatch-core/internal/protocol"
)

const handshakeTimeout = 10 * time.Second

// Conn is an open device session.
//
// Send and Receive may be called from different goroutines; each is
// serialised on its own.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	readMu  sync.Mutex
}

// Received is a frame from the server.
type Received struct {
	MessageType protocol.OutboundType `json:"message_type"`
	Message     json.RawMessage       `json:"message"`
}

// Command decodes the message as an operation command.
func (r Received) Command() (protocol.Command, error) {
	var cmd protocol.Command
	if err := json.Unmarshal(r.Message, &cmd); err != nil {
		return cmd, fmt.Errorf("decoding command: %w", err)
	}
	return cmd, nil
}

// Dial opens the device websocket for this client's product key.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	target, err := c.socketURL()
	if err != nil {
		return nil, err
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	ws, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing device socket (status: %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing device socket: %w", err)
	}
	c.logger.Info("device socket connected", "device_name", c.cfg.DeviceName)
	return &Conn{ws: ws}, nil
}

// Send writes one inbound frame.
func (c *Conn) Send(ctx context.Context, f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return c.SendRaw(ctx, data)
}

// SendRaw writes an already encoded text frame.
func (c *Conn) SendRaw(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{}) //nolint:errcheck // clearing the deadline
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Receive blocks for the next server frame. A close from the server is
// returned as a *websocket.CloseError.
func (c *Conn) Receive(ctx context.Context) (Received, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
		defer c.ws.SetReadDeadline(time.Time{}) //nolint:errcheck // clearing the deadline
	}

	var msg Received
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decoding server frame: %w", err)
	}
	return msg, nil
}

// Close sends a normal close frame and closes the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
