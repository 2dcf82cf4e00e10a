package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/evengine/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	clientBacklog  = 16
	maxMessageSize = 512
)

// streamHub fans every decision out to connected websocket clients.
// Slow clients drop messages rather than blocking the engine.
type streamHub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool

	upgrader websocket.Upgrader
}

type streamClient struct {
	conn *websocket.Conn
	send chan domain.Decision
}

func newStreamHub() *streamHub {
	return &streamHub{
		clients: make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *streamHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &streamClient{conn: conn, send: make(chan domain.Decision, clientBacklog)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	go h.readLoop(client)
}

// broadcast queues a decision to every client, dropping for clients
// whose backlog is full.
func (h *streamHub) broadcast(d domain.Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- d:
		default:
		}
	}
}

func (h *streamHub) writeLoop(client *streamClient) {
	defer h.drop(client)
	for d := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteJSON(d); err != nil {
			return
		}
	}
}

// readLoop discards client messages and notices disconnects.
func (h *streamHub) readLoop(client *streamClient) {
	defer h.drop(client)
	client.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *streamHub) drop(client *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}

func (h *streamHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		client.conn.Close()
	}
}
