package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "esence/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024

	sendBufferSize = 256

	// Commands a single client may have in flight
	maxInFlight = 4
)

// Client is one websocket connection of the owner interface
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	dispatcher Dispatcher

	send   chan []byte
	mu     sync.Mutex
	closed bool

	inFlight *semaphore.Weighted
	logger   *zap.Logger
}

// NewClient creates a client for an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, dispatcher Dispatcher, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:         id,
		hub:        hub,
		conn:       conn,
		dispatcher: dispatcher,
		send:       make(chan []byte, sendBufferSize),
		inFlight:   semaphore.NewWeighted(maxInFlight),
		logger:     logger.With(zap.String("connectionID", id)),
	}
}

// Start registers the client and runs its pumps. Frames queued with
// enqueueFrame before Start are written first.
func (c *Client) Start(ctx context.Context) {
	c.hub.Register(c)
	go c.writePump()
	go c.readPump(ctx)
}

// GetID returns the client's connection ID
func (c *Client) GetID() string {
	return c.id
}

// readPump pumps commands from the connection to the dispatcher
func (c *Client) readPump(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		c.hub.Unregister(c)
		c.close()
		c.conn.Close()
		c.logger.Debug("Read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.handleTextMessage(ctx, message)
		case websocket.BinaryMessage:
			c.logger.Warn("Binary messages not supported")
		}
	}
}

// writePump pumps frames from the send buffer to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("Write pump stopped")
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) handleTextMessage(ctx context.Context, message []byte) {
	var in Frame
	if err := json.Unmarshal(bytes.TrimSpace(message), &in); err != nil || in.Type == "" {
		c.enqueueFrame(ErrorFrame("", string(apperrors.ErrorTypeValidation), "invalid frame"))
		return
	}

	switch in.Type {
	case FramePing:
		pong, _ := NewFrame(FramePong, nil)
		pong.RequestID = in.RequestID
		c.enqueueFrame(pong)
		return
	case FramePong:
		c.logger.Debug("Received pong")
		return
	}

	if !c.inFlight.TryAcquire(1) {
		c.enqueueFrame(ErrorFrame(in.RequestID, string(apperrors.ErrorTypeBusy), "too many commands in flight"))
		return
	}
	go func() {
		defer c.inFlight.Release(1)
		c.enqueueFrame(c.dispatcher.Dispatch(ctx, in))
	}()
}

func (c *Client) enqueueFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("Failed to marshal frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		c.logger.Warn("Send buffer full, reply dropped", zap.String("type", f.Type))
	}
}

// enqueue reports false only when the send buffer is full. Frames for a
// closed client are discarded.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops the write pump; it is safe to call more than once
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
