package shell

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Hub fans out shell notifications (service-ready, service-failed,
// connection-lost, menu-upload-requested) to connected UI websockets.
type Hub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader

	// wmu serializes broadcasts: gorilla/websocket supports at most one
	// concurrent writer per connection.
	wmu sync.Mutex
}

// NewHub creates an empty hub. Origin checks are relaxed: the server only
// listens on loopback.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request and keeps the connection registered until the
// peer closes it. The UI never sends meaningful messages; the read loop only
// detects disconnect.
func (h *Hub) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer h.drop(conn)
		for {
			if _, _, errRead := conn.ReadMessage(); errRead != nil {
				return
			}
		}
	}()
}

// Broadcast delivers one JSON message to every connected UI. Write failures
// drop the connection. Broadcasts may arrive from gin handlers and from
// orchestrator goroutines at the same time; writes are serialized.
func (h *Hub) Broadcast(v interface{}) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.wmu.Lock()
	defer h.wmu.Unlock()
	for _, c := range conns {
		if err := c.WriteJSON(v); err != nil {
			h.drop(c)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		_ = conn.Close()
	}
	h.mu.Unlock()
}

// Close disconnects every peer. Called on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.Close()
		delete(h.conns, c)
	}
}
