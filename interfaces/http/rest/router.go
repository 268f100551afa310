package rest

import (
	"net/http"

	"esence/application/commands/bus"
	querybus "esence/application/queries/bus"
	"esence/interfaces/http/rest/handlers"
	"esence/interfaces/http/rest/middleware"
	"esence/pkg/auth"
	"esence/pkg/observability"

	apperrors "esence/pkg/errors"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Node is what the router needs from the running node
type Node interface {
	handlers.Receiver
	handlers.HealthChecker
}

// Options configures the router
type Options struct {
	AllowedOrigins []string
	// AuthRequired rejects control requests without an owner token
	AuthRequired bool
	Debug        bool
	// Tracer, when set, opens a server span per request
	Tracer *observability.Tracer
}

// Router creates and configures the HTTP router
type Router struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	node       Node
	tokens     *auth.OwnerTokens
	limiter    *auth.IPRateLimiter
	metrics    *observability.Metrics
	push       http.Handler
	opts       Options
	logger     *zap.Logger
}

// NewRouter creates a new router instance. tokens, metrics and push may be
// nil; the corresponding routes are then open or absent.
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	node Node,
	tokens *auth.OwnerTokens,
	limiter *auth.IPRateLimiter,
	metrics *observability.Metrics,
	push http.Handler,
	opts Options,
	logger *zap.Logger,
) *Router {
	return &Router{
		commandBus: commandBus,
		queryBus:   queryBus,
		node:       node,
		tokens:     tokens,
		limiter:    limiter,
		metrics:    metrics,
		push:       push,
		opts:       opts,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()
	errs := apperrors.NewErrorHandler(rt.logger.Named("http"), rt.opts.Debug)

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errs.Middleware)
	if rt.opts.Tracer != nil {
		router.Use(observability.TracingMiddleware(rt.opts.Tracer))
	}
	router.Use(middleware.Logger(rt.logger, rt.metrics))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(rt.node)
	router.Get("/health", health.Health)
	router.Get("/ready", health.Ready)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	// Peer protocol
	anp := handlers.NewANPHandler(rt.node, errs, rt.logger.Named("anp"))
	router.Get("/.well-known/did.json", anp.Document)
	router.Group(func(r chi.Router) {
		if rt.limiter != nil {
			r.Use(middleware.RateLimit(rt.limiter, errs, rt.logger))
		}
		r.Post("/anp/message", anp.ReceiveMessage)
	})

	ownerAuth := middleware.OwnerAuth(rt.tokens, rt.opts.AuthRequired, rt.logger)

	if rt.push != nil {
		router.With(ownerAuth).Get("/ws", rt.push.ServeHTTP)
	}

	// Local control surface
	router.Route("/api", func(r chi.Router) {
		r.Use(ownerAuth)

		owner := handlers.NewOwnerHandler(rt.commandBus, rt.queryBus, errs, rt.logger)
		r.Get("/state", owner.GetState)
		r.Get("/identity", owner.GetIdentity)
		r.Post("/mood", owner.SetMood)
		r.Post("/auto-approve", owner.SetAutoApprove)
		r.Get("/chat", owner.ChatHistory)
		r.Post("/chat", owner.Chat)
		r.Get("/context", owner.GetContext)
		r.Put("/context", owner.PutContext)

		threads := handlers.NewThreadHandler(rt.commandBus, rt.queryBus, errs, rt.logger)
		r.Get("/pending", threads.ListPending)
		r.Post("/send", threads.Send)
		r.Route("/threads", func(r chi.Router) {
			r.Get("/", threads.ListThreads)
			r.Get("/{threadID}", threads.GetThread)
			r.Post("/{threadID}/approve", threads.Approve)
			r.Post("/{threadID}/reject", threads.Reject)
		})

		peers := handlers.NewPeerHandler(rt.commandBus, rt.queryBus, errs, rt.logger)
		r.Route("/peers", func(r chi.Router) {
			r.Get("/", peers.ListPeers)
			r.Post("/", peers.AddPeer)
			r.Patch("/{did}", peers.UpdatePeer)
			r.Delete("/{did}", peers.RemovePeer)
			r.Post("/{did}/block", peers.BlockPeer)
		})
	})

	return router
}
