package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"esence/infrastructure/messaging"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Subscriber is the event source relayed to clients
type Subscriber interface {
	Subscribe(buffer int) *messaging.Subscription
	Unsubscribe(sub *messaging.Subscription)
}

// ServerConfig holds websocket server configuration
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	// AllowedOrigins uses the same patterns as the CORS layer, e.g.
	// http://localhost:*
	AllowedOrigins []string
	MaxConnections int
}

// DefaultServerConfig returns default websocket server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		AllowedOrigins:  []string{"http://localhost:*", "http://127.0.0.1:*"},
		MaxConnections:  16,
	}
}

// Server upgrades owner connections and relays node events to them
type Server struct {
	hub        *Hub
	dispatcher Dispatcher
	events     Subscriber
	upgrader   websocket.Upgrader
	config     ServerConfig
	logger     *zap.Logger

	// ctx outlives the upgrade request; it is set by Run
	mu  sync.RWMutex
	ctx context.Context
}

// NewServer creates a websocket server
func NewServer(hub *Hub, dispatcher Dispatcher, events Subscriber, config ServerConfig, logger *zap.Logger) *Server {
	s := &Server{
		hub:        hub,
		dispatcher: dispatcher,
		events:     events,
		config:     config,
		logger:     logger,
		ctx:        context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Run relays broker events to the hub until ctx ends
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	sub := s.events.Subscribe(broadcastBuffer)
	defer s.events.Unsubscribe(sub)

	hubCtx, cancel := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		s.hub.Run(hubCtx)
	}()
	defer func() {
		cancel()
		<-hubDone
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.C:
			if !ok {
				return nil
			}
			f, err := FromEvent(evt)
			if err != nil {
				s.logger.Error("Failed to encode event", zap.String("event_type", evt.GetEventType()), zap.Error(err))
				continue
			}
			s.hub.Broadcast(f)
		}
	}
}

// ServeHTTP handles websocket upgrade requests. Authentication happens in
// the router middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.hub.Count() >= s.config.MaxConnections {
		s.logger.Warn("Connection limit exceeded", zap.Int("clients", s.hub.Count()))
		http.Error(w, "Connection limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}

	client := NewClient(s.hub, conn, s.dispatcher, s.logger)
	if snapshot, err := s.dispatcher.Snapshot(r.Context()); err != nil {
		s.logger.Error("Failed to build state snapshot", zap.Error(err))
	} else {
		client.enqueueFrame(snapshot)
	}
	client.Start(s.baseContext())

	s.logger.Info("New websocket connection established",
		zap.String("connectionID", client.GetID()),
		zap.String("remoteAddr", r.RemoteAddr),
	)
}

func (s *Server) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// checkOrigin accepts requests without an Origin header, same-host origins
// and origins matching one of the configured patterns.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, pattern := range s.config.AllowedOrigins {
		if matchOrigin(pattern, origin) {
			return true
		}
	}
	s.logger.Warn("Rejected websocket origin", zap.String("origin", origin))
	return false
}

func matchOrigin(pattern, origin string) bool {
	pattern = strings.ToLower(pattern)
	origin = strings.ToLower(origin)
	if pattern == "*" {
		return true
	}
	prefix, suffix, wildcard := strings.Cut(pattern, "*")
	if !wildcard {
		return pattern == origin
	}
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix)
}
