package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xtrntr/gridledger/internal/exchange"
	"github.com/xtrntr/gridledger/internal/logger"
	"github.com/xtrntr/gridledger/internal/models"
)

const writeWait = 5 * time.Second

type wsClient struct {
	conn *websocket.Conn
	zone models.Zone
	mu   sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub streams order book depth to websocket subscribers, one zone each
type Hub struct {
	exchange *exchange.Exchange
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates a hub. allowed lists the accepted origins; empty or "*"
// accepts any.
func NewHub(ex *exchange.Exchange, allowed []string) *Hub {
	h := &Hub{exchange: ex, clients: make(map[*wsClient]struct{})}
	h.upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}}
	return h
}

// ServeWS subscribes the connection to the zone query parameter
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	zone := models.Zone(r.URL.Query().Get("zone"))
	depth, err := h.exchange.OrderBookSnapshot(zone, models.Window{})
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	client := &wsClient{conn: conn, zone: zone}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	// Send initial order book
	if data, err := json.Marshal(depth); err == nil {
		if err := client.send(data); err != nil {
			h.drop(client)
			return
		}
	}

	// Keep connection alive until the peer goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(client)
			return
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// Subscribers reports how many connections are open
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends the current depth of each subscribed zone to its subscribers
func (h *Hub) Broadcast(ctx context.Context) {
	h.mu.RLock()
	byZone := make(map[models.Zone][]*wsClient)
	for c := range h.clients {
		byZone[c.zone] = append(byZone[c.zone], c)
	}
	h.mu.RUnlock()

	for zone, clients := range byZone {
		depth, err := h.exchange.OrderBookSnapshot(zone, models.Window{})
		if err != nil {
			continue
		}
		data, err := json.Marshal(depth)
		if err != nil {
			logger.Error(ctx, "failed to marshal order book", zap.String("zone", string(zone)), zap.Error(err))
			continue
		}
		for _, c := range clients {
			if err := c.send(data); err != nil {
				logger.Debug(ctx, "dropping websocket subscriber", zap.String("zone", string(zone)), zap.Error(err))
				h.drop(c)
			}
		}
	}
}

// Run broadcasts every interval until ctx is done
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				_ = c.conn.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case <-ticker.C:
			h.Broadcast(ctx)
		}
	}
}
