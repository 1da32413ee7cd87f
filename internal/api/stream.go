package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// streamEvent is one frame pushed to connected UIs (spec.md §6, "SSE
// stream emits position and order updates").
type streamEvent struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out stream events to every connected websocket client,
// grounded on the same subscribe/broadcast shape as internal/bus/memory,
// reused here for the broker-facing order-status stream's sibling: UI
// push updates over gorilla/websocket.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan streamEvent
}

func newHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan streamEvent)}
}

func (h *Hub) register(conn *websocket.Conn) chan streamEvent {
	ch := make(chan streamEvent, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(ev streamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := s.stream.register(conn)
	defer s.stream.unregister(conn)

	for ev := range ch {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
