package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"moodcam/internal/pipeline"
)

// client is one connection with its outbound queue
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// DetectionHub fans frame results out to WebSocket clients. Broadcasts never
// block: a client whose queue is full misses the message.
type DetectionHub struct {
	clients map[*client]bool
	mu      sync.RWMutex
	closed  bool
}

// NewDetectionHub creates a new detection hub
func NewDetectionHub() *DetectionHub {
	return &DetectionHub{
		clients: make(map[*client]bool),
	}
}

// register adds a connection and returns its queue owner
func (h *DetectionHub) register(conn *websocket.Conn) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.clients[c] = true
	log.Printf("[WS] Client registered (total: %d)", len(h.clients))
	return c, true
}

// unregister removes a client and closes its queue
func (h *DetectionHub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		log.Printf("[WS] Client unregistered (total: %d)", len(h.clients))
	}
}

// Broadcast queues a raw message for every client
func (h *DetectionHub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			// Client is slow, skip message
		}
	}
}

// OnFrameResult broadcasts an emotion message for an analyzed frame
func (h *DetectionHub) OnFrameResult(result *pipeline.FrameResult) {
	if h.ClientCount() == 0 {
		return
	}

	data, err := json.Marshal(NewEmotionMessage(result))
	if err != nil {
		log.Printf("[WS] Error marshaling emotion message: %v", err)
		return
	}
	h.Broadcast(data)
}

// ClientCount returns the number of connected clients
func (h *DetectionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones
func (h *DetectionHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

var _ pipeline.ResultHandler = (*DetectionHub)(nil)
