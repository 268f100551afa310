// Package node orchestrates the components of an esence node: it boots the
// identity and stores, routes inbound messages and runs the background
// loops until the context ends.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"esence/application/ports"
	"esence/application/queue"
	"esence/application/services"
	"esence/domain/config"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"
	"esence/pkg/observability"
	"esence/pkg/utils"

	domainsvc "esence/domain/services"
	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const chatHistoryLimit = 20

// Identity is what the node needs from the identity manager
type Identity interface {
	ports.MessageSigner
	Document(maturity float64, humanReview bool) entities.IdentityDocument
	UpdateDomain(ctx context.Context, host string, maturity float64, humanReview bool) (bool, error)
}

// Worker is a background loop run for the life of the node
type Worker func(ctx context.Context) error

// Config holds the orchestrator settings
type Config struct {
	NodeName          string
	PublicHost        string
	BootstrapPeer     string
	HeartbeatInterval time.Duration
	GossipInterval    time.Duration
	GossipMinTrust    float64
}

// Deps are the components the node drives. The queue is built by New so it
// can report storage failures and read the essence through the node.
type Deps struct {
	Identity    Identity
	Store       ports.EssenceStore
	Engine      ports.EssenceEngine
	Sender      ports.Sender
	Peers       *services.PeerService
	Capacity    *services.CapacityService
	Corrections *services.CorrectionService
	Policy      *domainsvc.AutonomyPolicy
	Classifier  *domainsvc.TopicClassifier
	Publisher   ports.EventPublisher
	QueueConfig queue.Config
	QueueDeps   queue.Deps
	Workers     []Worker
	Clock       utils.Clock
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// Node is the orchestrator
type Node struct {
	cfg   Config
	deps  Deps
	queue *queue.Queue

	mu       sync.RWMutex
	state    State
	settings entities.Settings

	// policyMu serializes rule reloads against routing decisions
	policyMu sync.RWMutex

	chatMu sync.Mutex
	chat   []ports.ChatTurn

	logger *zap.Logger
}

// New wires the node and its queue
func New(cfg Config, deps Deps) (*Node, error) {
	if deps.Identity == nil || deps.Store == nil || deps.Engine == nil {
		return nil, errors.New("node requires an identity, a store and an engine")
	}
	if deps.Peers == nil || deps.Capacity == nil || deps.Corrections == nil {
		return nil, errors.New("node requires peer, capacity and correction services")
	}
	if deps.Policy == nil {
		policy, err := domainsvc.NewAutonomyPolicy(nil, nil)
		if err != nil {
			return nil, err
		}
		deps.Policy = policy
	}
	if deps.Classifier == nil {
		deps.Classifier = domainsvc.NewTopicClassifier(config.DefaultDomainConfig().DefaultTopic, nil)
	}
	if deps.Clock == nil {
		deps.Clock = utils.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.GossipInterval <= 0 {
		cfg.GossipInterval = 5 * time.Minute
	}

	n := &Node{
		cfg:      cfg,
		deps:     deps,
		settings: entities.DefaultSettings(),
		state:    State{Status: StatusStarting, Mood: entities.DefaultSettings().Mood},
		logger:   deps.Logger.Named("node"),
	}

	qd := deps.QueueDeps
	qd.Store = deps.Store
	qd.Engine = deps.Engine
	qd.Signer = deps.Identity
	qd.Sender = deps.Sender
	qd.Endpoints = deps.Peers
	qd.Usage = deps.Capacity
	qd.Corrections = deps.Corrections
	qd.Peers = deps.Peers
	qd.Publisher = deps.Publisher
	qd.Essence = n.Essence
	qd.OnStorageFailure = n.reportStorageFailure
	qd.Clock = deps.Clock
	qd.Logger = deps.Logger
	qd.Metrics = deps.Metrics
	n.queue = queue.New(deps.QueueConfig, qd)

	n.state.identify(deps.Identity.DID(), cfg.NodeName)
	return n, nil
}

// Queue exposes the thread queue for read paths
func (n *Node) Queue() *queue.Queue {
	return n.queue
}

// Boot runs the start-up steps that must finish before the node accepts
// traffic: owner settings, identity domain reconciliation and the thread
// index.
func (n *Node) Boot(ctx context.Context) error {
	settings, err := n.deps.Store.LoadSettings(ctx)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		settings = entities.DefaultSettings()
	case err != nil:
		return fmt.Errorf("failed to load settings: %w", err)
	}
	n.mu.Lock()
	n.settings = settings
	n.state.setMood(settings.Mood)
	n.state.setAutoApprove(settings.AutoApprove)
	n.mu.Unlock()

	if n.cfg.PublicHost != "" {
		changed, err := n.deps.Identity.UpdateDomain(ctx, n.cfg.PublicHost, n.deps.Corrections.Maturity(), !settings.AutoApprove)
		if err != nil {
			return fmt.Errorf("failed to reconcile identity domain: %w", err)
		}
		if changed {
			n.logger.Info("identity moved to public host", zap.String("did", n.deps.Identity.DID().String()))
		}
	}
	n.mu.Lock()
	n.state.identify(n.deps.Identity.DID(), n.cfg.NodeName)
	n.mu.Unlock()

	restored, err := n.queue.Restore(ctx)
	if err != nil {
		return err
	}
	n.logger.Info("node booted",
		zap.String("did", n.deps.Identity.DID().String()),
		zap.Int("threads", restored),
		zap.String("mood", string(settings.Mood)),
	)
	return nil
}

// Run drives the queue, the background workers and the periodic loops
// until ctx ends or one of them fails.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	n.state.online(n.deps.Clock.Now())
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.state.stop()
		n.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.queue.Run(gctx) })
	for _, w := range n.deps.Workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}
	g.Go(func() error { return n.heartbeatLoop(gctx) })
	g.Go(func() error { return n.gossipLoop(gctx) })
	if n.cfg.BootstrapPeer != "" {
		g.Go(func() error {
			n.bootstrap(gctx)
			return nil
		})
	}

	err := g.Wait()
	n.deps.Corrections.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := n.State(ctx)
			n.publish(events.NewHeartbeat(snap.DID, snap, n.deps.Clock.Now()))
		}
	}
}

func (n *Node) gossipLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.GossipRound(ctx)
		}
	}
}

// GossipRound exchanges peer lists with every trusted peer and shares the
// remaining donated capacity with them. Failures only affect trust.
func (n *Node) GossipRound(ctx context.Context) int {
	trusted := n.deps.Peers.TrustedPeers(n.cfg.GossipMinTrust)
	discovered := 0
	for _, p := range trusted {
		if ctx.Err() != nil {
			break
		}
		added, err := n.deps.Peers.GossipExchange(ctx, p.DID)
		if err != nil {
			n.logger.Debug("gossip exchange failed", zap.String("peer", p.DID.String()), zap.Error(err))
			continue
		}
		discovered += len(added)
		n.shareCapacity(ctx, p.DID)
	}
	if len(trusted) > 0 {
		n.logger.Info("gossip round finished", zap.Int("peers", len(trusted)), zap.Int("discovered", discovered))
	}
	return discovered
}

func (n *Node) shareCapacity(ctx context.Context, did valueobjects.DID) {
	if n.deps.Sender == nil {
		return
	}
	endpoint, err := n.deps.Peers.Endpoint(ctx, did)
	if err != nil {
		return
	}
	msg := entities.NewMessage(valueobjects.NewThreadID(), n.deps.Identity.DID(), did, "", n.deps.Capacity.StatusBody(), n.deps.Clock.Now())
	signed, err := n.deps.Identity.SignMessage(msg)
	if err != nil {
		n.logger.Warn("failed to sign capacity status", zap.Error(err))
		return
	}
	if _, err := n.deps.Sender.Send(ctx, endpoint, signed); err != nil {
		n.logger.Debug("capacity status not delivered", zap.String("peer", did.String()), zap.Error(err))
	}
}

// bootstrap introduces the node to its configured first peer
func (n *Node) bootstrap(ctx context.Context) {
	did, err := valueobjects.ParseDID(n.cfg.BootstrapPeer)
	if err != nil {
		n.logger.Warn("ignoring invalid bootstrap peer", zap.String("did", n.cfg.BootstrapPeer), zap.Error(err))
		return
	}
	if did.Equals(n.deps.Identity.DID()) {
		return
	}
	if _, err := n.deps.Peers.AddBootstrap(ctx, did); err != nil {
		n.check(err)
		n.logger.Warn("failed to register bootstrap peer", zap.Error(err))
		return
	}
	added, err := n.deps.Peers.GossipExchange(ctx, did)
	if err != nil {
		n.logger.Warn("bootstrap intro failed", zap.String("peer", did.String()), zap.Error(err))
		return
	}
	n.logger.Info("bootstrap intro sent", zap.String("peer", did.String()), zap.Int("discovered", len(added)))
}

// Essence collects the owner material for the engine
func (n *Node) Essence(ctx context.Context) ports.Essence {
	text, err := n.deps.Store.ReadContext(ctx)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		n.logger.Warn("failed to read owner context", zap.Error(err))
	}
	patterns, err := n.deps.Corrections.Patterns(ctx)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		n.logger.Warn("failed to read patterns", zap.Error(err))
	}
	return ports.Essence{
		NodeName: n.cfg.NodeName,
		NodeDID:  n.deps.Identity.DID().String(),
		Context:  text,
		Patterns: patterns,
		Maturity: n.deps.Corrections.Maturity(),
	}
}

// State refreshes the counters and returns a snapshot
func (n *Node) State(ctx context.Context) State {
	c := counters{
		peers:    n.deps.Peers.Count(),
		maturity: n.deps.Corrections.Maturity(),
	}
	c.label = domainsvc.MaturityLabel(c.maturity)
	if pending, err := n.queue.PendingCount(ctx); err == nil {
		c.pending = pending
	}
	if patterns, err := n.deps.Corrections.Patterns(ctx); err == nil {
		c.patterns = len(patterns)
	}
	b := n.deps.Capacity.Snapshot()
	c.budget = BudgetView{
		UsedUnits:    b.UsedUnits,
		LimitUnits:   b.LimitUnits,
		OwnerUnits:   b.OwnerUnits,
		CallsTotal:   b.CallsTotal,
		AvailablePct: b.AvailablePct(),
		PeriodStart:  b.PeriodStart,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.state.observe(c)
	return n.state.snapshot()
}

// Health returns the current health flag
func (n *Node) Health() Health {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.snapshot().Health
}

// Ready reports whether the node is serving and healthy
func (n *Node) Ready() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.Status == StatusOnline && !n.state.Health.Degraded
}

// Document renders the identity document with the current maturity
func (n *Node) Document() entities.IdentityDocument {
	return n.deps.Identity.Document(n.deps.Corrections.Maturity(), !n.Settings().AutoApprove)
}

// Settings returns the owner's switches
func (n *Node) Settings() entities.Settings {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.settings
}

// SetRules swaps the autonomy rules, typically on a config file change
func (n *Node) SetRules(rules []domainsvc.DomainRule) error {
	n.policyMu.Lock()
	defer n.policyMu.Unlock()
	if err := n.deps.Policy.SetRules(rules); err != nil {
		n.logger.Warn("rejected autonomy rules", zap.Error(err))
		return apperrors.NewValidationError(err.Error())
	}
	n.logger.Info("autonomy rules updated", zap.Int("rules", len(rules)))
	return nil
}

func (n *Node) decide(in domainsvc.RoutingInput) domainsvc.Decision {
	n.policyMu.RLock()
	defer n.policyMu.RUnlock()
	return n.deps.Policy.Decide(in)
}

// check raises degraded health when err is a failed store write
func (n *Node) check(err error) {
	if apperrors.IsStorageWriteFailed(err) {
		n.reportStorageFailure(err)
	}
}

func (n *Node) reportStorageFailure(err error) {
	now := n.deps.Clock.Now()
	n.mu.Lock()
	changed := n.state.degrade(err.Error(), now)
	did := n.state.DID
	n.mu.Unlock()
	if changed {
		n.logger.Error("node health degraded", zap.Error(err))
		n.publish(events.NewHealthDegraded(did, err.Error(), now))
	}
}

func (n *Node) publish(evt events.DomainEvent) {
	if n.deps.Publisher != nil {
		n.deps.Publisher.Publish(evt)
	}
}
