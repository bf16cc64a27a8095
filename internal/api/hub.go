package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quicktrade-sim-go/internal/market"
)

const (
	clientBuffer = 16
	writeWait    = 10 * time.Second
)

type quotesMessage struct {
	Type   string      `json:"type"`
	Quotes []quoteView `json:"quotes"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) writePump(logger *zap.Logger) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Debug("Websocket write failed", zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Hub streams every tick's quote snapshot to connected websocket clients.
// Each client has a small buffer; a client that falls behind misses ticks.
type Hub struct {
	logger   *zap.Logger
	feed     QuoteFeed
	upgrader websocket.Upgrader

	mu          sync.Mutex
	clients     map[*wsClient]struct{}
	closed      bool
	unsubscribe func()
}

// NewHub creates a Hub subscribed to feed.
func NewHub(logger *zap.Logger, feed QuoteFeed) *Hub {
	h := &Hub{
		logger:  logger.Named("ws"),
		feed:    feed,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	h.unsubscribe = feed.Subscribe(h.broadcast)
	return h
}

func encodeQuotes(quotes []market.Quote) ([]byte, error) {
	msg := quotesMessage{Type: "quotes", Quotes: make([]quoteView, len(quotes))}
	for i, q := range quotes {
		msg.Quotes[i] = viewOf(q)
	}
	return json.Marshal(msg)
}

func (h *Hub) broadcast(quotes []market.Quote) {
	data, err := encodeQuotes(quotes)
	if err != nil {
		h.logger.Error("Failed to encode quotes", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow client, drop this tick
		}
	}
}

// ServeWS upgrades the request and keeps the connection until the client leaves.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if data, err := encodeQuotes(h.feed.Snapshot()); err == nil {
		client.send <- data
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(client.send)
		client.writePump(h.logger)
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Websocket client connected", zap.String("remote", conn.RemoteAddr().String()))
	go client.writePump(h.logger)

	// Clients only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(client)
	h.logger.Debug("Websocket client disconnected", zap.String("remote", conn.RemoteAddr().String()))
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close unsubscribes from the feed and disconnects every client.
func (h *Hub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
