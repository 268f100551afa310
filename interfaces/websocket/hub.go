package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	broadcastBuffer     = 256
	healthCheckInterval = 30 * time.Second
)

// Gauge receives the number of connected clients
type Gauge interface {
	SetWSClients(n int)
}

// Hub tracks the connected owner interfaces and fans frames out to them
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	once       sync.Once

	gauge  Gauge
	logger *zap.Logger
}

// NewHub creates a hub. gauge may be nil.
func NewHub(gauge Gauge, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		gauge:      gauge,
		logger:     logger,
	}
}

// Run is the hub's event loop. It closes every connection when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	defer h.once.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub shutting down")
			h.closeAllConnections()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToClients(message)

		case <-ticker.C:
			h.mu.RLock()
			h.logger.Debug("Hub health check", zap.Int("clients", len(h.clients)))
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a frame for every client. It drops the frame when the
// hub is saturated rather than block the event relay.
func (h *Hub) Broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Warn("Broadcast channel full, frame dropped", zap.String("type", f.Type))
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client; after shutdown the client is closed instead
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
	}
}

// Unregister removes a client
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.setGauge(n)
	h.logger.Info("Client registered",
		zap.String("connectionID", c.id),
		zap.Int("clients", n),
	)
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	h.setGauge(n)
	h.logger.Info("Client unregistered",
		zap.String("connectionID", c.id),
		zap.Int("clients", n),
	)
}

func (h *Hub) broadcastToClients(message []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(message) {
			h.logger.Warn("Client too slow, disconnecting", zap.String("connectionID", c.id))
			h.unregisterClient(c)
		}
	}
}

func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	h.setGauge(0)
	h.logger.Info("All websocket connections closed", zap.Int("count", len(clients)))
}

func (h *Hub) setGauge(n int) {
	if h.gauge != nil {
		h.gauge.SetWSClients(n)
	}
}
