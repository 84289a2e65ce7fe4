package monitor

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/dashcam.report/internal/infra"
)

// Hub fans rendered frames and world-state JSON out to websocket
// clients. Messages for slow clients are skipped (the client stays
// connected) rather than allowed to backpressure the publisher, mirroring
// the pipeline's own overflow policy.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan hubMessage
}

type hubMessage struct {
	messageType int
	data        []byte
}

// clientBuffer bounds each client's pending messages.
const clientBuffer = 8

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// The monitor is a local observability surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*hubClient]struct{}{},
	}
}

// ServeWS upgrades the request and registers the client until its
// connection drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		infra.Opsf("live view upgrade failed: %v", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan hubMessage, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	infra.Diagf("live view client connected (%d total)", n)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *hubClient) {
	// Drain control/client messages; any error means the client is gone.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(msg.messageType, msg.data); err != nil {
			h.drop(c)
			return
		}
	}
	c.conn.Close()
}

func (h *Hub) drop(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// BroadcastFrame sends a JPEG-encoded frame to every client. Clients
// whose buffers are full miss this frame.
func (h *Hub) BroadcastFrame(jpeg []byte) {
	h.broadcast(hubMessage{messageType: websocket.BinaryMessage, data: jpeg})
}

// BroadcastState sends world-state JSON to every client.
func (h *Hub) BroadcastState(stateJSON []byte) {
	h.broadcast(hubMessage{messageType: websocket.TextMessage, data: stateJSON})
}

func (h *Hub) broadcast(msg hubMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Client too slow; skip this message for it.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
