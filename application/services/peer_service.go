package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"esence/application/ports"
	"esence/domain/config"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"
	"esence/pkg/utils"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// Peer sources recorded on new peer records
const (
	SourceManual    = "manual"
	SourceInbound   = "inbound"
	SourceBootstrap = "bootstrap"
)

// PeerUpdate carries the owner-editable fields of a peer. Nil fields are
// left unchanged.
type PeerUpdate struct {
	Trust   *float64
	Alias   *string
	Blocked *bool
}

// PeerService owns the peer list: trust accounting, gossip and resolution
type PeerService struct {
	mu    sync.Mutex
	peers map[string]entities.Peer

	store     ports.PeerStore
	resolver  ports.Resolver
	signer    ports.MessageSigner
	sender    ports.Sender
	cfg       *config.DomainConfig
	publisher ports.EventPublisher
	clock     utils.Clock
	logger    *zap.Logger
}

// NewPeerService loads the stored peer list
func NewPeerService(
	ctx context.Context,
	store ports.PeerStore,
	resolver ports.Resolver,
	signer ports.MessageSigner,
	sender ports.Sender,
	cfg *config.DomainConfig,
	publisher ports.EventPublisher,
	clock utils.Clock,
	logger *zap.Logger,
) (*PeerService, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stored, err := store.LoadPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load peers: %w", err)
	}
	peers := make(map[string]entities.Peer, len(stored))
	for _, p := range stored {
		if p.DID.IsZero() {
			continue
		}
		peers[p.DID.String()] = p
	}

	return &PeerService{
		peers:     peers,
		store:     store,
		resolver:  resolver,
		signer:    signer,
		sender:    sender,
		cfg:       cfg,
		publisher: publisher,
		clock:     clock,
		logger:    logger.Named("peers"),
	}, nil
}

// Resolve fetches the identity document of did through the cache
func (s *PeerService) Resolve(ctx context.Context, did valueobjects.DID) (entities.IdentityDocument, error) {
	return s.resolver.Resolve(ctx, did)
}

// Endpoint returns where messages for did are posted
func (s *PeerService) Endpoint(ctx context.Context, did valueobjects.DID) (string, error) {
	doc, err := s.resolver.Resolve(ctx, did)
	if err != nil {
		return "", err
	}
	return doc.Endpoint(did.MessageURL()), nil
}

// Get returns a peer by DID
func (s *PeerService) Get(did valueobjects.DID) (entities.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[did.String()]
	return p, ok
}

// List returns every peer, most trusted first
func (s *PeerService) List() []entities.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Count returns the number of known peers
func (s *PeerService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// DisplayName returns the alias of a known peer, or @name
func (s *PeerService) DisplayName(did valueobjects.DID) string {
	if p, ok := s.Get(did); ok {
		return p.DisplayName()
	}
	return did.Handle()
}

// Add resolves did and registers it as a manually added peer. Adding a known
// peer returns the existing record.
func (s *PeerService) Add(ctx context.Context, did valueobjects.DID) (entities.Peer, error) {
	if s.signer != nil && did.Equals(s.signer.DID()) {
		return entities.Peer{}, apperrors.NewValidationError("cannot add own DID as a peer")
	}
	if _, err := s.resolver.Resolve(ctx, did); err != nil {
		return entities.Peer{}, err
	}
	return s.ensure(ctx, did, s.cfg.DefaultTrust, SourceManual)
}

// AddBootstrap registers the bootstrap peer without resolving it first
func (s *PeerService) AddBootstrap(ctx context.Context, did valueobjects.DID) (entities.Peer, error) {
	return s.ensure(ctx, did, s.cfg.BootstrapTrust, SourceBootstrap)
}

func (s *PeerService) ensure(ctx context.Context, did valueobjects.DID, trust float64, source string) (entities.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.peers[did.String()]; ok {
		return p, nil
	}
	p := entities.NewPeer(did, trust, source, s.clock.Now())
	s.peers[did.String()] = p
	if err := s.saveLocked(ctx); err != nil {
		delete(s.peers, did.String())
		return entities.Peer{}, err
	}
	s.publish(events.NewPeerUpdated(did, p.TrustScore, p.Blocked, s.clock.Now()))
	return p, nil
}

// Upsert creates or edits a peer
func (s *PeerService) Upsert(ctx context.Context, did valueobjects.DID, update PeerUpdate) (entities.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := did.String()
	prev, existed := s.peers[key]
	p := prev
	if !existed {
		p = entities.NewPeer(did, s.cfg.DefaultTrust, SourceManual, s.clock.Now())
	}
	if update.Trust != nil {
		p.TrustScore = entities.ClampTrust(*update.Trust)
	}
	if update.Alias != nil {
		p.Alias = *update.Alias
	}
	if update.Blocked != nil {
		p.Blocked = *update.Blocked
	}

	s.peers[key] = p
	if err := s.saveLocked(ctx); err != nil {
		s.restoreLocked(key, prev, existed)
		return entities.Peer{}, err
	}
	s.publish(events.NewPeerUpdated(did, p.TrustScore, p.Blocked, s.clock.Now()))
	return p, nil
}

// Block flags a peer so its messages are rejected
func (s *PeerService) Block(ctx context.Context, did valueobjects.DID, blocked bool) (entities.Peer, error) {
	return s.Upsert(ctx, did, PeerUpdate{Blocked: &blocked})
}

// SetAlias sets the owner's display name for a peer
func (s *PeerService) SetAlias(ctx context.Context, did valueobjects.DID, alias string) (entities.Peer, error) {
	return s.Upsert(ctx, did, PeerUpdate{Alias: &alias})
}

// Remove forgets a peer
func (s *PeerService) Remove(ctx context.Context, did valueobjects.DID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := did.String()
	prev, ok := s.peers[key]
	if !ok {
		return apperrors.NewNotFoundError("peer")
	}
	delete(s.peers, key)
	if err := s.saveLocked(ctx); err != nil {
		s.peers[key] = prev
		return err
	}
	s.publish(events.NewPeerRemoved(did, s.clock.Now()))
	return nil
}

// RecordInteraction applies one trust step. An unknown peer is registered
// at the default trust first.
func (s *PeerService) RecordInteraction(ctx context.Context, did valueobjects.DID, outcome entities.Interaction) (entities.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := did.String()
	prev, existed := s.peers[key]
	p := prev
	if !existed {
		p = entities.NewPeer(did, s.cfg.DefaultTrust, SourceInbound, s.clock.Now())
	}
	p.Record(outcome, s.cfg.TrustSuccessStep, s.cfg.TrustFailureStep, s.clock.Now())
	if outcome != entities.InteractionNeutral {
		p.ThreadCount++
	}

	s.peers[key] = p
	if err := s.saveLocked(ctx); err != nil {
		s.restoreLocked(key, prev, existed)
		return entities.Peer{}, err
	}
	if !existed || prev.TrustScore != p.TrustScore {
		s.publish(events.NewPeerUpdated(did, p.TrustScore, p.Blocked, s.clock.Now()))
	}
	return p, nil
}

// UpdateCapacity stores the availability a peer advertised
func (s *PeerService) UpdateCapacity(ctx context.Context, did valueobjects.DID, availablePct float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := did.String()
	prev, ok := s.peers[key]
	if !ok {
		return nil
	}
	p := prev
	pct := entities.ClampPct(availablePct)
	p.AvailablePct = &pct
	s.peers[key] = p
	if err := s.saveLocked(ctx); err != nil {
		s.peers[key] = prev
		return err
	}
	return nil
}

// GossipPayload lists the DIDs this node vouches for: unblocked peers at or
// above the gossip trust floor, most trusted first, capped.
func (s *PeerService) GossipPayload() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, s.cfg.GossipMaxPeers)
	for _, p := range s.sortedLocked() {
		if len(out) == s.cfg.GossipMaxPeers {
			break
		}
		if p.Blocked || p.TrustScore < s.cfg.GossipMinTrust {
			continue
		}
		out = append(out, p.DID.String())
	}
	return out
}

// TrustedPeers returns unblocked peers at or above minTrust
func (s *PeerService) TrustedPeers(minTrust float64) []entities.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entities.Peer
	for _, p := range s.sortedLocked() {
		if !p.Blocked && p.TrustScore >= minTrust {
			out = append(out, p)
		}
	}
	return out
}

// MergeGossip adds DIDs learned from source at the gossip trust. Known peers
// are left untouched so a local block is never overwritten. Returns the
// newly added DIDs.
func (s *PeerService) MergeGossip(ctx context.Context, source valueobjects.DID, dids []string) ([]valueobjects.DID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var self valueobjects.DID
	if s.signer != nil {
		self = s.signer.DID()
	}

	var added []valueobjects.DID
	for _, raw := range dids {
		did, err := valueobjects.ParseDID(raw)
		if err != nil {
			s.logger.Debug("ignoring malformed gossip DID", zap.String("did", raw))
			continue
		}
		if did.Equals(source) || did.Equals(self) {
			continue
		}
		if _, ok := s.peers[did.String()]; ok {
			continue
		}
		s.peers[did.String()] = entities.NewPeer(did, s.cfg.GossipTrust, source.String(), s.clock.Now())
		added = append(added, did)
	}
	if len(added) == 0 {
		return nil, nil
	}

	if err := s.saveLocked(ctx); err != nil {
		for _, did := range added {
			delete(s.peers, did.String())
		}
		return nil, err
	}
	s.logger.Info("merged gossip", zap.String("source", source.String()), zap.Int("added", len(added)))
	s.publish(events.NewPeersDiscovered(source, added, s.clock.Now()))
	return added, nil
}

// Intro builds a signed peer_intro for did carrying the gossip payload
func (s *PeerService) Intro(did valueobjects.DID) (entities.Message, error) {
	if s.signer == nil {
		return entities.Message{}, errors.New("peer service has no signer")
	}
	body := entities.PeerIntroBody{PublicKey: s.signer.PublicKey(), KnownPeers: s.GossipPayload()}
	msg := entities.NewMessage(valueobjects.NewThreadID(), s.signer.DID(), did, "", body, s.clock.Now())
	return s.signer.SignMessage(msg)
}

// GossipExchange sends a peer_intro to did and merges the peers it answers
// with. The exchange counts as an interaction for trust.
func (s *PeerService) GossipExchange(ctx context.Context, did valueobjects.DID) ([]valueobjects.DID, error) {
	if s.sender == nil {
		return nil, errors.New("peer service has no sender")
	}
	endpoint, err := s.Endpoint(ctx, did)
	if err != nil {
		return nil, err
	}
	msg, err := s.Intro(did)
	if err != nil {
		return nil, err
	}

	delivery, err := s.sender.Send(ctx, endpoint, msg)
	if err != nil {
		if _, recErr := s.RecordInteraction(ctx, did, entities.InteractionFailure); recErr != nil {
			s.logger.Warn("failed to record interaction", zap.Error(recErr))
		}
		return nil, err
	}
	if _, err := s.RecordInteraction(ctx, did, entities.InteractionSuccess); err != nil {
		s.logger.Warn("failed to record interaction", zap.Error(err))
	}

	var answer struct {
		KnownPeers []string `json:"known_peers"`
	}
	if len(delivery.Body) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(delivery.Body, &answer); err != nil {
		s.logger.Debug("gossip answer carried no peer list", zap.String("peer", did.String()), zap.Error(err))
		return nil, nil
	}
	return s.MergeGossip(ctx, did, answer.KnownPeers)
}

func (s *PeerService) sortedLocked() []entities.Peer {
	out := make([]entities.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	entities.SortByTrust(out)
	return out
}

func (s *PeerService) restoreLocked(key string, prev entities.Peer, existed bool) {
	if existed {
		s.peers[key] = prev
		return
	}
	delete(s.peers, key)
}

// saveLocked persists the list in DID order so the file diffs cleanly
func (s *PeerService) saveLocked(ctx context.Context) error {
	out := make([]entities.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID.String() < out[j].DID.String() })
	if err := s.store.SavePeers(ctx, out); err != nil {
		s.logger.Error("failed to persist peers", zap.Error(err))
		return err
	}
	return nil
}

func (s *PeerService) publish(evt events.DomainEvent) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}
