package socket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader for chat sockets. Cross-origin policy is enforced by the CORS
// layer and the matchmaking flow, so Origin is not re-checked here.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conn wraps a websocket connection with a write lock; gorilla allows only
// one concurrent writer.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// NewConn wraps an upgraded websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// SendJSON writes one JSON frame.
func (c *Conn) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Close sends a close frame with the given code and reason, then closes
// the underlying connection.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.ws.Close()
}

// ReadJSON reads one JSON frame from the peer.
func (c *Conn) ReadJSON(v interface{}) error {
	return c.ws.ReadJSON(v)
}
