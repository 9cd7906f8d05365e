package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kopabase/kopabase/pkg/dashboard"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// Message is what websocket clients receive
type Message struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Timestamp string `json:"timestamp"`
}

func messageFor(e dashboard.Event) Message {
	return Message{Type: string(e.Type), Name: e.Name, Timestamp: time.Now().Format(time.RFC3339)}
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// hub keeps the connected websocket clients and fans change events out to
// them. Each client has its own writer goroutine, so a slow browser never
// blocks a mutation.
type hub struct {
	logger  *zap.Logger
	metrics *httpMetrics

	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool
	wg      sync.WaitGroup
}

func newHub(logger *zap.Logger, metrics *httpMetrics) *hub {
	return &hub{logger: logger, metrics: metrics, clients: make(map[string]*wsClient)}
}

// register starts serving conn and greets it with its client id
func (h *hub) register(conn *websocket.Conn) string {
	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	hello, _ := json.Marshal(Message{Type: "hello", ClientID: c.id, Timestamp: time.Now().Format(time.RFC3339)})
	c.send <- hello

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return ""
	}
	h.clients[c.id] = c
	total := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.wsClients.Inc()
	}
	h.logger.Info("🔌 websocket connected", zap.String("client", c.id), zap.Int("total", total))

	go h.writeLoop(c)
	go h.readLoop(c)
	return c.id
}

func (h *hub) unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.send)
	}
	remaining := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.metrics != nil {
		h.metrics.wsClients.Dec()
	}
	h.logger.Info("🔌 websocket disconnected", zap.String("client", id), zap.Int("remaining", remaining))
}

func (h *hub) writeLoop(c *wsClient) {
	defer h.wg.Done()
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("websocket write failed", zap.String("client", c.id), zap.Error(err))
			// closing the connection ends readLoop, which unregisters us
			c.conn.Close()
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop discards incoming frames until the peer goes away
func (h *hub) readLoop(c *wsClient) {
	defer h.wg.Done()
	defer h.unregister(c.id)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcast queues msg for every client; clients with a full queue miss it
func (h *hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode websocket message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	h.logger.Debug("📡 broadcasting", zap.String("type", msg.Type), zap.Int("clients", len(h.clients)))
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("websocket client is lagging, dropping message", zap.String("client", c.id))
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// close disconnects every client and waits for their goroutines
func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
		if h.metrics != nil {
			h.metrics.wsClients.Dec()
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
}
