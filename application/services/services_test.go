package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"esence/application/ports"
	"esence/application/ports/mocks"
	"esence/domain/config"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"
	"esence/pkg/utils"

	apperrors "esence/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	self  = valueobjects.MustParseDID("did:wba:localhost%3A7777:alice")
	bob   = valueobjects.MustParseDID("did:wba:localhost%3A7778:bob")
	carol = valueobjects.MustParseDID("did:wba:carol.example.com:carol")
	start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory store for the services under test
type memStore struct {
	mu          sync.Mutex
	peers       []entities.Peer
	corrections []entities.Correction
	patterns    []entities.Pattern
	peerErr     error
}

func (m *memStore) LoadPeers(ctx context.Context) ([]entities.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.Peer(nil), m.peers...), nil
}

func (m *memStore) SavePeers(ctx context.Context, peers []entities.Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peerErr != nil {
		return m.peerErr
	}
	m.peers = append([]entities.Peer(nil), peers...)
	return nil
}

func (m *memStore) AppendCorrection(ctx context.Context, c entities.Correction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections = append(m.corrections, c)
	return nil
}

func (m *memStore) LoadCorrections(ctx context.Context) ([]entities.Correction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.Correction(nil), m.corrections...), nil
}

func (m *memStore) LoadPatterns(ctx context.Context) ([]entities.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.Pattern(nil), m.patterns...), nil
}

func (m *memStore) SavePatterns(ctx context.Context, patterns []entities.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append([]entities.Pattern(nil), patterns...)
	return nil
}

type fakeSigner struct{}

func (fakeSigner) DID() valueobjects.DID { return self }
func (fakeSigner) PublicKey() string     { return "cHVibGlj" }
func (fakeSigner) SignMessage(msg entities.Message) (entities.Message, error) {
	return msg.WithSignature("c2ln"), nil
}
func (fakeSigner) VerifyMessage(ctx context.Context, msg entities.Message) error { return nil }

// Capacity

func newCapacity(t *testing.T, store ports.BudgetStore, clock utils.Clock, pub ports.EventPublisher, priority ...string) *CapacityService {
	t.Helper()
	cfg := CapacityConfig{
		TotalUnits:    1000,
		DonationPct:   10,
		Period:        30 * 24 * time.Hour,
		EstimateBase:  20,
		PriorityPeers: priority,
	}
	s, err := NewCapacityService(context.Background(), cfg, store, pub, clock, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func TestCapacityService_AdmitAndDeny(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := new(mocks.MockBudgetStore)
	store.On("LoadBudget", mock.Anything).Return(entities.Budget{}, ports.ErrNotFound)
	store.On("SaveBudget", mock.Anything, mock.Anything).Return(nil)
	pub := &mocks.RecordingPublisher{}
	s := newCapacity(t, store, &testClock{now: start}, pub)

	// Act
	first, err := s.Admit(ctx, bob, 95)
	require.NoError(t, err)
	second, err := s.Admit(ctx, bob, 10)
	require.NoError(t, err)

	// Assert
	assert.True(t, first.Allowed)
	assert.False(t, second.Allowed)
	assert.Equal(t, int64(95), s.Snapshot().UsedUnits)
	assert.Equal(t, int64(100), s.Snapshot().LimitUnits)
	assert.True(t, pub.Has(events.TypeCapacityDenied))
	store.AssertNumberOfCalls(t, "SaveBudget", 1)
}

func TestCapacityService_PriorityPeerBypassesLimit(t *testing.T) {
	store := new(mocks.MockBudgetStore)
	store.On("LoadBudget", mock.Anything).Return(entities.Budget{}, ports.ErrNotFound)
	store.On("SaveBudget", mock.Anything, mock.Anything).Return(nil)
	s := newCapacity(t, store, &testClock{now: start}, nil, carol.String())

	adm, err := s.Admit(context.Background(), carol, 500)

	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.True(t, adm.Priority)
	assert.Equal(t, int64(500), s.Snapshot().UsedUnits)
}

func TestCapacityService_FailedPersistRollsBack(t *testing.T) {
	store := new(mocks.MockBudgetStore)
	store.On("LoadBudget", mock.Anything).Return(entities.Budget{}, ports.ErrNotFound)
	store.On("SaveBudget", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	s := newCapacity(t, store, &testClock{now: start}, nil)

	_, err := s.Admit(context.Background(), bob, 30)

	assert.True(t, apperrors.IsStorageWriteFailed(err))
	assert.Equal(t, int64(0), s.Snapshot().UsedUnits)
	assert.Empty(t, s.Snapshot().Reservations)
}

func TestCapacityService_RolloverOnFirstAccessAfterBoundary(t *testing.T) {
	ctx := context.Background()
	stored := entities.NewBudget(1000, 10, start)
	stored.UsedUnits = 100
	stored.PerPeerUsage[bob.String()] = 100

	store := new(mocks.MockBudgetStore)
	store.On("LoadBudget", mock.Anything).Return(stored, nil)
	store.On("SaveBudget", mock.Anything, mock.Anything).Return(nil)
	clock := &testClock{now: start}
	pub := &mocks.RecordingPublisher{}
	s := newCapacity(t, store, clock, pub)

	denied, err := s.Admit(ctx, bob, 5)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	clock.Advance(31 * 24 * time.Hour)
	admitted, err := s.Admit(ctx, bob, 5)
	require.NoError(t, err)

	assert.True(t, admitted.Allowed)
	assert.Equal(t, int64(5), s.Snapshot().UsedUnits)
	assert.Equal(t, start.Add(30*24*time.Hour), s.Snapshot().PeriodStart)
	assert.True(t, pub.Has(events.TypeBudgetRolledOver))
}

func TestCapacityService_FailedRolloverPublishesNothing(t *testing.T) {
	// Arrange
	stored := entities.NewBudget(1000, 10, start)
	stored.UsedUnits = 100
	store := new(mocks.MockBudgetStore)
	store.On("LoadBudget", mock.Anything).Return(stored, nil)
	store.On("SaveBudget", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	clock := &testClock{now: start}
	pub := &mocks.RecordingPublisher{}
	s := newCapacity(t, store, clock, pub)
	clock.Advance(31 * 24 * time.Hour)

	// Act
	err := s.Record(context.Background(), bob, 5)

	// Assert
	assert.True(t, apperrors.IsStorageWriteFailed(err))
	assert.False(t, pub.Has(events.TypeBudgetRolledOver))
	assert.Equal(t, start, s.Snapshot().PeriodStart)
	assert.Equal(t, int64(100), s.Snapshot().UsedUnits)
}

func TestCapacityService_RecordChargesExcess(t *testing.T) {
	ctx := context.Background()
	store := new(mocks.MockBudgetStore)
	store.On("LoadBudget", mock.Anything).Return(entities.Budget{}, ports.ErrNotFound)
	store.On("SaveBudget", mock.Anything, mock.Anything).Return(nil)
	s := newCapacity(t, store, &testClock{now: start}, nil)

	_, err := s.Admit(ctx, bob, 30)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, bob, 42))
	require.NoError(t, s.RecordOwner(ctx, 7))

	snap := s.Snapshot()
	assert.Equal(t, int64(42), snap.UsedUnits)
	assert.Equal(t, int64(42), snap.PerPeerUsage[bob.String()])
	assert.Equal(t, int64(7), snap.OwnerUnits)
	assert.Equal(t, int64(20+3), s.Estimate("hola mundo!!"))
	assert.InDelta(t, 58.0, s.StatusBody().AvailablePct, 0.001)
}

// Peers

func newPeers(t *testing.T, store *memStore, resolver ports.Resolver, sender ports.Sender, pub ports.EventPublisher) *PeerService {
	t.Helper()
	s, err := NewPeerService(context.Background(), store, resolver, fakeSigner{}, sender, config.DefaultDomainConfig(), pub, &testClock{now: start}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestPeerService_RecordInteraction(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newPeers(t, store, nil, nil, nil)

	p, err := s.RecordInteraction(ctx, bob, entities.InteractionSuccess)
	require.NoError(t, err)
	assert.InDelta(t, 0.52, p.TrustScore, 1e-9)
	assert.Equal(t, SourceInbound, p.Source)

	p, err = s.RecordInteraction(ctx, bob, entities.InteractionFailure)
	require.NoError(t, err)
	assert.InDelta(t, 0.47, p.TrustScore, 1e-9)
	assert.Equal(t, 2, p.ThreadCount)

	p, err = s.RecordInteraction(ctx, bob, entities.InteractionNeutral)
	require.NoError(t, err)
	assert.InDelta(t, 0.47, p.TrustScore, 1e-9)
	assert.Len(t, store.peers, 1)
}

func TestPeerService_FailedSaveRestoresState(t *testing.T) {
	store := &memStore{peerErr: errors.New("read-only")}
	s := newPeers(t, store, nil, nil, nil)

	_, err := s.RecordInteraction(context.Background(), bob, entities.InteractionSuccess)

	assert.Error(t, err)
	_, ok := s.Get(bob)
	assert.False(t, ok)
}

func TestPeerService_MergeGossipKeepsLocalBlock(t *testing.T) {
	// Arrange
	ctx := context.Background()
	pub := &mocks.RecordingPublisher{}
	s := newPeers(t, &memStore{}, nil, nil, pub)
	_, err := s.Block(ctx, carol, true)
	require.NoError(t, err)
	dave := valueobjects.MustParseDID("did:wba:dave.example.com:dave")

	// Act
	added, err := s.MergeGossip(ctx, bob, []string{carol.String(), dave.String(), self.String(), bob.String(), "garbage"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.DID{dave}, added)
	c, _ := s.Get(carol)
	assert.True(t, c.Blocked)
	d, _ := s.Get(dave)
	assert.InDelta(t, 0.2, d.TrustScore, 1e-9)
	assert.Equal(t, bob.String(), d.Source)
	assert.True(t, pub.Has(events.TypePeersDiscovered))
}

func TestPeerService_GossipPayload(t *testing.T) {
	ctx := context.Background()
	s := newPeers(t, &memStore{}, nil, nil, nil)
	high, low := 0.9, 0.3
	_, err := s.Upsert(ctx, bob, PeerUpdate{Trust: &high})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, carol, PeerUpdate{Trust: &low})
	require.NoError(t, err)
	blocked := valueobjects.MustParseDID("did:wba:eve.example.com:eve")
	_, err = s.Upsert(ctx, blocked, PeerUpdate{Trust: &high})
	require.NoError(t, err)
	_, err = s.Block(ctx, blocked, true)
	require.NoError(t, err)

	assert.Equal(t, []string{bob.String()}, s.GossipPayload())
}

func TestPeerService_AliasAndRemove(t *testing.T) {
	ctx := context.Background()
	pub := &mocks.RecordingPublisher{}
	s := newPeers(t, &memStore{}, nil, nil, pub)

	assert.Equal(t, "@bob", s.DisplayName(bob))
	_, err := s.SetAlias(ctx, bob, "Roberto")
	require.NoError(t, err)
	assert.Equal(t, "Roberto", s.DisplayName(bob))

	require.NoError(t, s.Remove(ctx, bob))
	assert.Equal(t, 0, s.Count())
	assert.True(t, apperrors.IsNotFound(s.Remove(ctx, bob)))
	assert.True(t, pub.Has(events.TypePeerRemoved))
}

func TestPeerService_AddResolvesFirst(t *testing.T) {
	ctx := context.Background()
	resolver := new(mocks.MockResolver)
	resolver.On("Resolve", mock.Anything, bob).Return(entities.IdentityDocument{ID: bob.String()}, nil)
	resolver.On("Resolve", mock.Anything, carol).Return(entities.IdentityDocument{}, apperrors.NewResolutionFailedError(carol.String(), errors.New("404")))
	s := newPeers(t, &memStore{}, resolver, nil, nil)

	p, err := s.Add(ctx, bob)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p.TrustScore, 1e-9)

	_, err = s.Add(ctx, carol)
	assert.True(t, apperrors.IsResolutionFailed(err))
	_, err = s.Add(ctx, self)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 1, s.Count())
}

func TestPeerService_GossipExchange(t *testing.T) {
	// Arrange
	ctx := context.Background()
	resolver := new(mocks.MockResolver)
	sender := new(mocks.MockSender)
	dave := valueobjects.MustParseDID("did:wba:dave.example.com:dave")

	doc := entities.NewIdentityDocument(entities.Identity{DID: bob, PublicKey: "cHVi"}, bob.MessageURL(), 0.1, true)
	resolver.On("Resolve", mock.Anything, bob).Return(doc, nil)
	sender.On("Send", mock.Anything, bob.MessageURL(), mock.MatchedBy(func(m entities.Message) bool {
		body, ok := m.Body.(entities.PeerIntroBody)
		return ok && m.IsSigned() && body.PublicKey == "cHVibGlj"
	})).Return(ports.Delivery{StatusCode: 202, Body: []byte(`{"status":"received","known_peers":["` + dave.String() + `"]}`)}, nil)

	s := newPeers(t, &memStore{}, resolver, sender, nil)

	// Act
	added, err := s.GossipExchange(ctx, bob)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []valueobjects.DID{dave}, added)
	p, ok := s.Get(bob)
	require.True(t, ok)
	assert.InDelta(t, 0.52, p.TrustScore, 1e-9)
	sender.AssertExpectations(t)
}

// Corrections

func newCorrections(t *testing.T, store *memStore, engine ports.EssenceEngine, pub ports.EventPublisher) *CorrectionService {
	t.Helper()
	clock := &testClock{now: start}
	extractor := NewPatternExtractor(engine, 0.5, clock.Now)
	s, err := NewCorrectionService(context.Background(), store, store, extractor, nil, config.DefaultDomainConfig(), pub, clock, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestCorrectionService_LogsOnlyRealEdits(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s := newCorrections(t, store, new(mocks.MockEngine), nil)
	id := valueobjects.NewThreadID()

	c, err := s.Log(ctx, CorrectionInput{ThreadID: id, Peer: bob, Candidate: "hola", Final: ""})
	require.NoError(t, err)
	assert.Nil(t, c)
	c, err = s.Log(ctx, CorrectionInput{ThreadID: id, Peer: bob, Candidate: "hola", Final: "hola"})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = s.Log(ctx, CorrectionInput{ThreadID: id, Peer: bob, Domain: "work", Candidate: "see you monday", Final: "see you tuesday"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, c.WasEdited)
	assert.Equal(t, 4, c.EditDistance)
	assert.Contains(t, c.Diff, "[-")
	assert.Contains(t, c.Diff, "{+")
	assert.Len(t, store.corrections, 1)
}

func TestCorrectionService_FifthCorrectionExtractsPatterns(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := &memStore{}
	engine := new(mocks.MockEngine)
	engine.On("Complete", mock.Anything, mock.Anything, mock.Anything, extractionMaxUnits).Return(ports.Generation{
		Content: "```json\n[{\"description\":\"Prefers short replies\",\"examples\":[]},{\"description\":\"prefers short replies\"}]\n```",
	}, nil).Once()
	pub := &mocks.RecordingPublisher{}
	s := newCorrections(t, store, engine, pub)
	before := s.Maturity()

	// Act
	for i := 0; i < 5; i++ {
		_, err := s.Log(ctx, CorrectionInput{ThreadID: valueobjects.NewThreadID(), Peer: bob, Candidate: "a long reply", Final: "short"})
		require.NoError(t, err)
	}
	s.Wait()

	// Assert
	require.Len(t, store.patterns, 1)
	assert.Equal(t, 0.5, store.patterns[0].Confidence)
	assert.True(t, pub.Has(events.TypePatternsUpdated))
	assert.True(t, pub.Has(events.TypeCorrectionLogged))
	assert.Greater(t, s.Maturity(), before)
	engine.AssertExpectations(t)
}

func TestCorrectionService_ExtractionFailureIsReported(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	engine := new(mocks.MockEngine)
	engine.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(ports.Generation{}, errors.New("provider down"))
	pub := &mocks.RecordingPublisher{}
	s := newCorrections(t, store, engine, pub)

	for i := 0; i < 5; i++ {
		c, err := s.Log(ctx, CorrectionInput{ThreadID: valueobjects.NewThreadID(), Peer: bob, Candidate: "x", Final: "y"})
		require.NoError(t, err)
		require.NotNil(t, c)
	}
	s.Wait()

	var updated *events.PatternsUpdated
	for _, e := range pub.Events() {
		if pu, ok := e.(events.PatternsUpdated); ok {
			updated = &pu
		}
	}
	require.NotNil(t, updated)
	assert.Contains(t, updated.Error, "provider down")
	assert.Len(t, store.corrections, 5)
}

// pairedAppendStore lets two concurrent appends meet before either lands,
// so their follow-up reads overlap when nothing serializes them.
type pairedAppendStore struct {
	*memStore
	meet chan struct{}
}

func (p *pairedAppendStore) AppendCorrection(ctx context.Context, c entities.Correction) error {
	select {
	case p.meet <- struct{}{}:
	case <-p.meet:
	case <-time.After(50 * time.Millisecond):
	}
	return p.memStore.AppendCorrection(ctx, c)
}

func TestCorrectionService_ConcurrentLogsExtractOncePerFifth(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := &memStore{}
	for i := 0; i < 3; i++ {
		store.corrections = append(store.corrections, entities.Correction{OriginalCandidate: "a long reply", FinalContent: "short", WasEdited: true})
	}
	paired := &pairedAppendStore{memStore: store, meet: make(chan struct{})}
	engine := new(mocks.MockEngine)
	engine.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(ports.Generation{Content: "[]"}, nil)
	clock := &testClock{now: start}
	s, err := NewCorrectionService(ctx, paired, store, NewPatternExtractor(engine, 0.5, clock.Now), nil, config.DefaultDomainConfig(), nil, clock, zap.NewNop())
	require.NoError(t, err)

	// Act
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Log(ctx, CorrectionInput{ThreadID: valueobjects.NewThreadID(), Peer: bob, Candidate: "a long reply", Final: "short"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	s.Wait()

	// Assert
	assert.Len(t, store.corrections, 5)
	engine.AssertNumberOfCalls(t, "Complete", 1)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: " [] ", want: "[]"},
		{name: "json fence", in: "```json\n[1]\n```", want: "[1]"},
		{name: "unterminated", in: "```\n[2]", want: "[2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestPatternExtractor_SkipsUneditedCorrections(t *testing.T) {
	e := NewPatternExtractor(new(mocks.MockEngine), 0.5, nil)

	_, err := e.Extract(context.Background(), []entities.Correction{{OriginalCandidate: "a", FinalContent: "a", WasEdited: true}})

	assert.ErrorIs(t, err, ErrNoMeaningfulCorrections)
}
