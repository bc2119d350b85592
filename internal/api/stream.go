package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
)

const (
	EventStatus        = "status"
	EventSyncCompleted = "sync.completed"

	clientBuffer = 32
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Envelope wraps every message pushed on the status stream.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// streamHub fans events out to connected websocket clients. A client whose
// buffer is full is dropped rather than blocking the publisher.
type streamHub struct {
	mu      sync.Mutex
	clients map[string]*streamClient
}

func newStreamHub() *streamHub {
	return &streamHub{clients: make(map[string]*streamClient)}
}

func (h *streamHub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	logger.Log.Debug("Stream client connected", zap.String("client", c.id), zap.Int("total", n))
}

func (h *streamHub) remove(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	logger.Log.Debug("Stream client disconnected", zap.String("client", c.id), zap.Int("total", n))
}

func (h *streamHub) sendTo(c *streamClient, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

func encodeEnvelope(typ string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()})
}

func (h *streamHub) publish(typ string, data any) {
	msg, err := encodeEnvelope(typ, data)
	if err != nil {
		logger.Log.Error("Failed to encode stream event", zap.String("type", typ), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logger.Log.Warn("Dropping slow stream client", zap.String("client", id))
			delete(h.clients, id)
			close(c.send)
		}
	}
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || h.allowedOrigin(origin) != ""
		},
	}
}

// StreamStatus upgrades to a websocket, sends the current status and then
// every status change and sync outcome until the client goes away.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		logger.Log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &streamClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	h.hub.add(c)

	st, err := h.syncManager.GetStatus(r.Context())
	if err == nil {
		if msg, err := encodeEnvelope(EventStatus, st); err == nil {
			h.hub.sendTo(c, msg)
		}
	}

	go c.writePump()
	c.readPump(h.hub)
}

// readPump discards client messages; it exists to notice disconnects and pongs.
func (c *streamClient) readPump(hub *streamHub) {
	defer func() {
		hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Debug("Stream read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
