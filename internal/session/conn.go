package session

import (
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// closeWith sends a close frame carrying code and closes conn.
func closeWith(conn Conn, code int, wait time.Duration) {
	msg := websocket.FormatCloseMessage(code, "")
	//nolint:errcheck // Best-effort close frame; the peer may already be gone
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	conn.Close()
}
