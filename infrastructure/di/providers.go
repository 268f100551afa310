package di

import (
	"context"
	"fmt"
	"math"
	"net/http"

	"esence/application/commands/bus"
	commandhandlers "esence/application/commands/handlers"
	"esence/application/node"
	"esence/application/ports"
	querybus "esence/application/queries/bus"
	queryhandlers "esence/application/queries/handlers"
	"esence/application/queue"
	"esence/application/services"
	"esence/infrastructure/config"
	"esence/infrastructure/engine"
	"esence/infrastructure/identity"
	"esence/infrastructure/messaging"
	"esence/infrastructure/persistence/filestore"
	"esence/infrastructure/resolver"
	"esence/infrastructure/transport"
	"esence/interfaces/http/rest"
	"esence/interfaces/websocket"
	"esence/pkg/auth"
	"esence/pkg/observability"
	"esence/pkg/utils"

	domainsvc "esence/domain/services"

	"go.uber.org/zap"
)

const metricsNamespace = "esence"

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zcfg.Level = level

	return zcfg.Build()
}

// ProvideMetrics creates the Prometheus collectors
func ProvideMetrics() *observability.Metrics {
	return observability.NewMetrics(metricsNamespace)
}

// ProvideTracer installs the tracer provider. Without an OTLP endpoint spans
// are not exported.
func ProvideTracer(ctx context.Context, cfg *config.Config) (*observability.Tracer, error) {
	return observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: metricsNamespace,
		Environment: cfg.Environment,
		NodeName:    cfg.Node.Name,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
}

// ProvideBroker creates the in-process event broker
func ProvideBroker(logger *zap.Logger) *messaging.Broker {
	return messaging.NewBroker(logger)
}

// ProvideEventPublisher exposes the broker to the application layer
func ProvideEventPublisher(broker *messaging.Broker) ports.EventPublisher {
	return broker
}

// ProvideStore opens the essence store directory
func ProvideStore(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*filestore.Store, error) {
	return filestore.New(cfg.Node.StoreDir, logger, metrics)
}

// ProvideResolver creates the DID document resolver
func ProvideResolver(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) *resolver.HTTPResolver {
	rc := resolver.DefaultConfig()
	rc.TTL = cfg.Peers.ResolverTTL
	rc.Retry.MaxRetries = cfg.Transport.MaxRetries
	return resolver.New(rc, resolver.NewDocumentCache(rc.TTL, utils.SystemClock{}), nil, logger, metrics)
}

// ProvideSender creates the outbound message transport
func ProvideSender(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) *transport.HTTPSender {
	sc := transport.DefaultSenderConfig()
	sc.Timeout = cfg.Transport.SendTimeout
	sc.Retry.MaxRetries = cfg.Transport.MaxRetries
	return transport.NewHTTPSender(sc, nil, logger, metrics)
}

// ProvideIdentity loads or creates the node's key pair and identity record
func ProvideIdentity(
	ctx context.Context,
	cfg *config.Config,
	store *filestore.Store,
	res *resolver.HTTPResolver,
	logger *zap.Logger,
) (*identity.Manager, error) {
	return identity.LoadOrCreate(ctx, identity.Options{
		KeysDir:       identity.KeysDir(store.Dir()),
		NodeName:      cfg.Node.Name,
		Host:          cfg.PublicHost(),
		MaxMessageAge: cfg.Queue.MaxMessageAge,
	}, store, res, logger)
}

// ProvideEngine creates the configured reply generator
func ProvideEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.EssenceEngine, error) {
	return engine.New(ctx, cfg.Engine, logger)
}

// ProvidePeerService loads the peer list
func ProvidePeerService(
	ctx context.Context,
	cfg *config.Config,
	store *filestore.Store,
	res *resolver.HTTPResolver,
	id *identity.Manager,
	sender *transport.HTTPSender,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) (*services.PeerService, error) {
	return services.NewPeerService(ctx, store, res, id, sender, cfg.Domain(), publisher, utils.SystemClock{}, logger)
}

// ProvideCapacityService loads the budget ledger
func ProvideCapacityService(
	ctx context.Context,
	cfg *config.Config,
	store *filestore.Store,
	publisher ports.EventPublisher,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*services.CapacityService, error) {
	return services.NewCapacityService(ctx, services.CapacityConfig{
		TotalUnits:    cfg.Capacity.TotalUnits,
		DonationPct:   int(math.Round(cfg.Capacity.DonationPct)),
		Period:        cfg.Capacity.Period,
		EstimateBase:  cfg.Capacity.EstimateBase,
		PriorityPeers: cfg.Capacity.PriorityPeers,
	}, store, publisher, utils.SystemClock{}, logger, metrics)
}

// ProvideCorrectionService loads the correction log and pattern store
func ProvideCorrectionService(
	ctx context.Context,
	cfg *config.Config,
	store *filestore.Store,
	eng ports.EssenceEngine,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) (*services.CorrectionService, error) {
	domain := cfg.Domain()
	clock := utils.SystemClock{}
	extractor := services.NewPatternExtractor(eng, domain.DefaultPatternConfidence, clock.Now)
	return services.NewCorrectionService(ctx, store, store, extractor, nil, domain, publisher, clock, logger)
}

// ProvidePolicy builds the autonomy policy from the configured rules
func ProvidePolicy(cfg *config.Config) (*domainsvc.AutonomyPolicy, error) {
	return domainsvc.NewAutonomyPolicy(cfg.Domain(), cfg.Autonomy.Rules)
}

// ProvideRulesWatcher watches the config file for rule changes. Without a
// config file there is nothing to watch and it returns nil.
func ProvideRulesWatcher(cfg *config.Config, logger *zap.Logger) (*config.RulesWatcher, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	return config.NewRulesWatcher(cfg.Path, logger)
}

// ProvideRateLimiter creates the per-IP limiter of the peer endpoint
func ProvideRateLimiter(cfg *config.Config) *auth.IPRateLimiter {
	return auth.NewIPRateLimiter(cfg.Transport.RateLimit, cfg.Transport.RateWindow)
}

// ProvideOwnerTokens returns nil when no JWT secret is configured
func ProvideOwnerTokens(cfg *config.Config, id *identity.Manager) (*auth.OwnerTokens, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewOwnerTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, id.DID().String())
}

// ProvideNode wires the orchestrator. The resolver sweep, the limiter
// sweep and the rules watcher run as node workers.
func ProvideNode(
	cfg *config.Config,
	id *identity.Manager,
	store *filestore.Store,
	eng ports.EssenceEngine,
	sender *transport.HTTPSender,
	res *resolver.HTTPResolver,
	peers *services.PeerService,
	capacity *services.CapacityService,
	corrections *services.CorrectionService,
	policy *domainsvc.AutonomyPolicy,
	watcher *config.RulesWatcher,
	limiter *auth.IPRateLimiter,
	publisher ports.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*node.Node, error) {
	workers := []node.Worker{
		func(ctx context.Context) error {
			res.Run(ctx)
			return nil
		},
		func(ctx context.Context) error {
			limiter.Run(ctx)
			return nil
		},
	}
	if watcher != nil {
		workers = append(workers, watcher.Run)
	}

	var uncertainty domainsvc.UncertaintyPredicate
	if markers := cfg.Autonomy.UncertaintyMarkers; len(markers) > 0 {
		uncertainty = domainsvc.MarkerUncertainty(markers...)
	}

	domain := cfg.Domain()
	n, err := node.New(node.Config{
		NodeName:          cfg.Node.Name,
		PublicHost:        cfg.PublicHost(),
		BootstrapPeer:     cfg.Node.BootstrapPeer,
		HeartbeatInterval: cfg.Peers.HeartbeatInterval,
		GossipInterval:    cfg.Peers.GossipInterval,
		GossipMinTrust:    domain.GossipMinTrust,
	}, node.Deps{
		Identity:    id,
		Store:       store,
		Engine:      eng,
		Sender:      sender,
		Peers:       peers,
		Capacity:    capacity,
		Corrections: corrections,
		Policy:      policy,
		Classifier:  domainsvc.NewTopicClassifier(domain.DefaultTopic, cfg.Autonomy.Rules),
		Publisher:   publisher,
		QueueConfig: queue.Config{
			GenerationTimeout: cfg.Queue.GenerationTimeout,
			DeliveryTimeout:   cfg.Queue.DeliveryTimeout,
			DraftOnArrival:    cfg.Queue.DraftOnArrival,
		},
		QueueDeps: queue.Deps{Uncertainty: uncertainty},
		Workers:   workers,
		Clock:     utils.SystemClock{},
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, err
	}

	if watcher != nil {
		watcher.OnChange(func(rules []domainsvc.DomainRule) {
			if err := n.SetRules(rules); err != nil {
				logger.Warn("Rejected reloaded autonomy rules", zap.Error(err))
				return
			}
			logger.Info("Autonomy rules reloaded", zap.Int("rules", len(rules)))
		})
	}
	return n, nil
}

// ProvideCommandBus creates a command bus with registered handlers
func ProvideCommandBus(n *node.Node, tracer *observability.Tracer, logger *zap.Logger) (*bus.CommandBus, error) {
	commandBus := bus.NewCommandBus(
		bus.TracingMiddleware(tracer),
		bus.LoggingMiddleware(logger.Named("commands")),
	)
	if err := commandhandlers.Register(commandBus, n, logger); err != nil {
		return nil, err
	}
	return commandBus, nil
}

// ProvideQueryBus creates a query bus with registered handlers
func ProvideQueryBus(n *node.Node, metrics *observability.Metrics) (*querybus.QueryBus, error) {
	queryBus := querybus.NewQueryBus(querybus.MetricsMiddleware(metrics))
	if err := queryhandlers.Register(queryBus, n); err != nil {
		return nil, err
	}
	return queryBus, nil
}

// ProvidePushServer creates the owner websocket endpoint
func ProvidePushServer(
	cfg *config.Config,
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	broker *messaging.Broker,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *websocket.Server {
	wsLogger := logger.Named("ws")
	wsConfig := websocket.DefaultServerConfig()
	wsConfig.AllowedOrigins = cfg.Transport.AllowedOrigins
	return websocket.NewServer(
		websocket.NewHub(metrics, wsLogger),
		websocket.NewBusDispatcher(commandBus, queryBus, wsLogger),
		broker,
		wsConfig,
		wsLogger,
	)
}

// ProvideRouter builds the HTTP handler tree
func ProvideRouter(
	cfg *config.Config,
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	n *node.Node,
	tokens *auth.OwnerTokens,
	limiter *auth.IPRateLimiter,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	push *websocket.Server,
	logger *zap.Logger,
) http.Handler {
	return rest.NewRouter(commandBus, queryBus, n, tokens, limiter, metrics, push, rest.Options{
		AllowedOrigins: cfg.Transport.AllowedOrigins,
		AuthRequired:   cfg.Auth.Required,
		Debug:          cfg.IsDevelopment(),
		Tracer:         tracer,
	}, logger).Setup()
}
