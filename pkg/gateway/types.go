package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hfaried/parley/pkg/chat"
)

// Envelope is the uniform response body for every session operation.
type Envelope struct {
	Success bool            `json:"success"`
	Data    *chat.ChatState `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// chatRequest is the POST /chat body.
type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
	Stream  bool   `json:"stream,omitempty"`
}

// modelRequest is the POST /model body.
type modelRequest struct {
	Model string `json:"model"`
}

// healthPayload is the GET /healthz body.
type healthPayload struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// EventMessage is one server-initiated event on the /ws feed.
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Client is one connected /ws observer.
type Client struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time
	RemoteAddr  string

	writeMu sync.Mutex
}

// send serializes writes; a gorilla connection allows one writer at a
// time and broadcasts arrive from concurrent turns.
func (c *Client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}
