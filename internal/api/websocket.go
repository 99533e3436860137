package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgewatch/edgewatch-core/internal/auth"
	"github.com/edgewatch/edgewatch-core/internal/bus"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/config"
	"github.com/edgewatch/edgewatch-core/internal/infrastructure/logging"
	"github.com/edgewatch/edgewatch-core/internal/protocol"
)

// Observer message types.
const (
	WSTypeNotification = "notification"
	WSTypePing         = "ping"
	WSTypePong         = "pong"
	WSTypeError        = "error"

	// wsSendBufferSize is the per-observer outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is a frame sent to or received from an observer.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Hub tracks observer connections.
type Hub struct {
	cfg     config.WebSocketConfig
	bus     bus.Bus
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one observer connection, bound to a single user.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	sub    bus.Subscription
}

// upgrader configures the WebSocket upgrader for both sockets.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Devices are not browsers and observers authenticate by token.
		return true
	},
}

// NewHub creates an observer hub that reads notifications from b.
func NewHub(cfg config.WebSocketConfig, b bus.Bus, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		bus:     b,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every observer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("observer connected", "user_id", client.userID, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	if existed {
		close(client.send)
	}
	h.mu.Unlock()

	if existed {
		client.sub.Unsubscribe()
	}
	h.logger.Debug("observer disconnected", "user_id", client.userID, "clients", h.ClientCount())
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all observers and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.sub.Unsubscribe()
	}
}

// forward is the bus handler for a user topic.
func (c *WSClient) forward(_ context.Context, _ string, payload []byte) error {
	msg := WSMessage{
		Type:      WSTypeNotification,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   json.RawMessage(payload),
	}
	if !json.Valid(payload) {
		data, err := json.Marshal(string(payload))
		if err != nil {
			return err
		}
		msg.Payload = data
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.trySend(data)
	return nil
}

// trySend queues data unless the client is gone or too slow.
func (c *WSClient) trySend(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("observer send buffer full, dropping notification", "user_id", c.userID)
	}
}

// handleObserverSocket upgrades an observer connection after verifying
// its token and subscribes it to the token subject's notifications.
func (s *Server) handleObserverSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return
	}
	claims, err := auth.ParseObserverToken(token, s.secCfg.JWT.Secret)
	if err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("observer websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		userID: claims.UserID(),
	}

	// Deliveries before Register are dropped by trySend.
	sub, err := s.bus.Subscribe(context.WithoutCancel(r.Context()), protocol.UserTopic(client.userID), client.forward)
	if err != nil {
		s.logger.Error("observer subscription failed", "user_id", client.userID, "error", err)
		conn.Close()
		return
	}
	client.sub = sub
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the observer connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxRequestBodySize)
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("observer read error", "error", err)
			} else {
				c.hub.logger.Debug("observer closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if the browser doesn't answer protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the observer connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers application-level pings. Observers have nothing
// else to say.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendReply("", WSTypeError, "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.sendReply(msg.ID, WSTypePong, "")
	default:
		c.sendReply(msg.ID, WSTypeError, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) sendReply(id, msgType, text string) {
	reply := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if text != "" {
		//nolint:errcheck // marshalling a string cannot fail
		reply.Payload, _ = json.Marshal(text)
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	c.trySend(data)
}
