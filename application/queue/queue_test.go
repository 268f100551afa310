package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"esence/application/ports"
	"esence/application/ports/mocks"
	"esence/application/services"
	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"

	domainsvc "esence/domain/services"
	apperrors "esence/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

var (
	alice = valueobjects.MustParseDID("did:wba:localhost%3A7777:alice")
	bob   = valueobjects.MustParseDID("did:wba:localhost%3A7778:bob")
	t0    = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return t0 }

type threadStore struct {
	mu      sync.Mutex
	records map[string]aggregates.ThreadRecord
	fail    error
}

func newThreadStore(records ...aggregates.ThreadRecord) *threadStore {
	s := &threadStore{records: make(map[string]aggregates.ThreadRecord)}
	for _, r := range records {
		s.records[r.ID.String()] = r
	}
	return s
}

func (s *threadStore) SaveThread(ctx context.Context, r aggregates.ThreadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.records[r.ID.String()] = r
	return nil
}

func (s *threadStore) LoadThreads(ctx context.Context) ([]aggregates.ThreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]aggregates.ThreadRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *threadStore) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *threadStore) get(id valueobjects.ThreadID) (aggregates.ThreadRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id.String()]
	return r, ok
}

type engine struct {
	mocks.MockEngine
	generate func(ctx context.Context, req ports.GenerationRequest) (ports.Generation, error)
}

func (e *engine) Generate(ctx context.Context, req ports.GenerationRequest) (ports.Generation, error) {
	return e.generate(ctx, req)
}

func replyWith(content string) func(context.Context, ports.GenerationRequest) (ports.Generation, error) {
	return func(context.Context, ports.GenerationRequest) (ports.Generation, error) {
		return ports.Generation{Content: content, InputUnits: 10, OutputUnits: 5}, nil
	}
}

type sender struct {
	mu   sync.Mutex
	err  error
	sent []entities.Message
}

func (s *sender) Send(ctx context.Context, endpoint string, msg entities.Message) (ports.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return ports.Delivery{}, s.err
	}
	s.sent = append(s.sent, msg)
	return ports.Delivery{StatusCode: 202}, nil
}

func (s *sender) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *sender) messages() []entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.Message(nil), s.sent...)
}

type signer struct{}

func (signer) DID() valueobjects.DID { return alice }
func (signer) PublicKey() string     { return "cHVi" }
func (signer) SignMessage(msg entities.Message) (entities.Message, error) {
	return msg.WithSignature("c2ln"), nil
}
func (signer) VerifyMessage(ctx context.Context, msg entities.Message) error { return nil }

type endpoints struct{}

func (endpoints) Endpoint(ctx context.Context, did valueobjects.DID) (string, error) {
	return did.MessageURL(), nil
}

type recorder struct {
	mu           sync.Mutex
	units        int64
	corrections  []services.CorrectionInput
	interactions []entities.Interaction
}

func (r *recorder) Record(ctx context.Context, peer valueobjects.DID, units int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units += units
	return nil
}

func (r *recorder) Log(ctx context.Context, in services.CorrectionInput) (*entities.Correction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrections = append(r.corrections, in)
	return &entities.Correction{}, nil
}

func (r *recorder) RecordInteraction(ctx context.Context, did valueobjects.DID, outcome entities.Interaction) (entities.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interactions = append(r.interactions, outcome)
	return entities.Peer{DID: did}, nil
}

func (r *recorder) snapshot() (int64, []services.CorrectionInput, []entities.Interaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.units, append([]services.CorrectionInput(nil), r.corrections...), append([]entities.Interaction(nil), r.interactions...)
}

type harness struct {
	q      *Queue
	store  *threadStore
	engine *engine
	sender *sender
	rec    *recorder
	pub    *mocks.RecordingPublisher
}

func newHarness(t *testing.T, cfg Config, store *threadStore, tweak func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store:  store,
		engine: &engine{generate: replyWith("Sure, Tuesday works.")},
		sender: &sender{},
		rec:    &recorder{},
		pub:    &mocks.RecordingPublisher{},
	}
	deps := Deps{
		Store:       store,
		Engine:      h.engine,
		Signer:      signer{},
		Sender:      h.sender,
		Endpoints:   endpoints{},
		Usage:       h.rec,
		Corrections: h.rec,
		Peers:       h.rec,
		Publisher:   h.pub,
		Clock:       fixedClock{},
		Logger:      zap.NewNop(),
	}
	if tweak != nil {
		tweak(&deps)
	}
	h.q = New(cfg, deps)
	_, err := h.q.Restore(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func testConfig() Config {
	return Config{GenerationTimeout: 5 * time.Second, DeliveryTimeout: 5 * time.Second}
}

func inbound(id valueobjects.ThreadID, content string) entities.Message {
	return entities.NewMessage(id, bob, alice, content, entities.ThreadMessageBody{Subject: "lunch"}, t0)
}

func (h *harness) waitFor(t *testing.T, id valueobjects.ThreadID, cond func(aggregates.ThreadRecord) bool) aggregates.ThreadRecord {
	t.Helper()
	var last aggregates.ThreadRecord
	require.Eventually(t, func() bool {
		r, err := h.q.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = r
		return cond(r)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func TestQueue_UnroutedMessageWaitsForReview(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	id := valueobjects.NewThreadID()

	// Act
	receipt, err := h.q.Ingest(context.Background(), inbound(id, "Lunch on Tuesday?"), Route{Domain: "general"})

	// Assert
	require.NoError(t, err)
	assert.True(t, receipt.Created)
	assert.Equal(t, valueobjects.StatusPendingReview, receipt.Status)

	pending, err := h.q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "lunch", pending[0].Subject)
	assert.Empty(t, h.sender.messages())

	stored, ok := h.store.get(id)
	require.True(t, ok)
	assert.Equal(t, valueobjects.StatusPendingReview, stored.Status)
	assert.True(t, h.pub.Has(events.TypeThreadCreated))
}

func TestQueue_AutonomousRouteSendsReply(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	id := valueobjects.NewThreadID()

	// Act
	_, err := h.q.Ingest(context.Background(), inbound(id, "Lunch on Tuesday?"), Route{Domain: "general", Autonomous: true})
	require.NoError(t, err)
	record := h.waitFor(t, id, func(r aggregates.ThreadRecord) bool { return r.Status == valueobjects.StatusSent })

	// Assert
	assert.Equal(t, "Sure, Tuesday works.", record.Outbound)
	assert.Len(t, record.Messages, 2)

	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, valueobjects.TypeThreadReply, sent[0].Type())
	assert.Equal(t, bob, sent[0].To)
	assert.True(t, sent[0].IsSigned())

	units, _, interactions := h.rec.snapshot()
	assert.Equal(t, int64(15), units)
	assert.Equal(t, []entities.Interaction{entities.InteractionSuccess}, interactions)
}

func TestQueue_AutonomousGenerationFailureFallsBackToReview(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	h.engine.generate = func(context.Context, ports.GenerationRequest) (ports.Generation, error) {
		return ports.Generation{}, errors.New("provider down")
	}
	id := valueobjects.NewThreadID()

	// Act
	_, err := h.q.Ingest(context.Background(), inbound(id, "Lunch?"), Route{Autonomous: true})
	require.NoError(t, err)
	record := h.waitFor(t, id, func(r aggregates.ThreadRecord) bool { return r.Outcome == valueobjects.OutcomeGenerationFailed })

	// Assert
	assert.Equal(t, valueobjects.StatusPendingReview, record.Status)
	assert.Empty(t, h.sender.messages())
	assert.True(t, h.pub.Has(events.TypeGenerationFailed))
}

func TestQueue_UncertainCandidateIsHeld(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), func(d *Deps) {
		d.Uncertainty = domainsvc.MarkerUncertainty("[unsure]")
	})
	h.engine.generate = replyWith("[unsure] maybe Tuesday")
	id := valueobjects.NewThreadID()

	// Act
	_, err := h.q.Ingest(context.Background(), inbound(id, "Lunch?"), Route{Autonomous: true})
	require.NoError(t, err)
	record := h.waitFor(t, id, func(r aggregates.ThreadRecord) bool { return r.Candidate != "" })

	// Assert
	assert.Equal(t, valueobjects.StatusPendingReview, record.Status)
	assert.Equal(t, valueobjects.OutcomeUncertain, record.Outcome)
	assert.Empty(t, h.sender.messages())
}

func TestQueue_ApproveEditedDraftLogsCorrection(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	cfg := testConfig()
	cfg.DraftOnArrival = true
	h := newHarness(t, cfg, newThreadStore(), nil)
	h.engine.generate = replyWith("See you monday")
	id := valueobjects.NewThreadID()
	_, err := h.q.Ingest(context.Background(), inbound(id, "When?"), Route{Domain: "social"})
	require.NoError(t, err)
	h.waitFor(t, id, func(r aggregates.ThreadRecord) bool { return r.Candidate != "" })

	// Act
	record, err := h.q.Approve(context.Background(), id, "See you tuesday")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, valueobjects.StatusSent, record.Status)
	assert.Equal(t, "See you tuesday", record.Outbound)
	assert.True(t, record.Edited)

	_, corrections, _ := h.rec.snapshot()
	require.Len(t, corrections, 1)
	assert.Equal(t, "See you monday", corrections[0].Candidate)
	assert.Equal(t, "See you tuesday", corrections[0].Final)
	assert.Equal(t, "social", corrections[0].Domain)
}

func TestQueue_FollowUpDraftsOnlyWhenAdmitted(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	cfg := testConfig()
	cfg.DraftOnArrival = true
	h := newHarness(t, cfg, newThreadStore(), nil)
	var calls atomic.Int32
	h.engine.generate = func(context.Context, ports.GenerationRequest) (ports.Generation, error) {
		n := calls.Add(1)
		return ports.Generation{Content: fmt.Sprintf("draft %d", n), InputUnits: 10, OutputUnits: 5}, nil
	}
	id := valueobjects.NewThreadID()
	_, err := h.q.Ingest(context.Background(), inbound(id, "When?"), Route{Domain: "social"})
	require.NoError(t, err)
	h.waitFor(t, id, func(r aggregates.ThreadRecord) bool { return r.Candidate == "draft 1" })

	// Act
	_, err = h.q.Ingest(context.Background(), inbound(id, "Still there?"), Route{Domain: "social"})
	require.NoError(t, err)
	unadmitted := h.waitFor(t, id, func(r aggregates.ThreadRecord) bool { return len(r.Messages) == 2 })
	_, err = h.q.Ingest(context.Background(), inbound(id, "Hello?"), Route{Domain: "social", Admitted: true})
	require.NoError(t, err)
	admitted := h.waitFor(t, id, func(r aggregates.ThreadRecord) bool { return r.Candidate == "draft 2" })

	// Assert
	assert.Equal(t, "draft 1", unadmitted.Candidate)
	assert.Len(t, admitted.Messages, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_ApproveEditWithoutDraftIsSentVerbatim(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	h.engine.generate = func(context.Context, ports.GenerationRequest) (ports.Generation, error) {
		return ports.Generation{}, errors.New("engine must not be called")
	}
	id := valueobjects.NewThreadID()
	_, err := h.q.Ingest(context.Background(), inbound(id, "Lunch?"), Route{})
	require.NoError(t, err)

	// Act
	record, err := h.q.Approve(context.Background(), id, "Y")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, valueobjects.StatusSent, record.Status)
	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Y", msgs[0].Content)

	_, corrections, _ := h.rec.snapshot()
	require.Len(t, corrections, 1)
	assert.Empty(t, corrections[0].Candidate)
	assert.Equal(t, "Y", corrections[0].Final)
}

func TestQueue_ApproveWithoutCandidateGeneratesFirst(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	id := valueobjects.NewThreadID()
	_, err := h.q.Ingest(context.Background(), inbound(id, "Lunch?"), Route{})
	require.NoError(t, err)

	// Act
	record, err := h.q.Approve(context.Background(), id, "")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, valueobjects.StatusSent, record.Status)
	assert.Equal(t, "Sure, Tuesday works.", record.Outbound)
	assert.False(t, record.Edited)
	_, corrections, _ := h.rec.snapshot()
	assert.Empty(t, corrections)
}

func TestQueue_ActionWhileInFlightIsBusyAndRejectCancels(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.engine.generate = func(ctx context.Context, req ports.GenerationRequest) (ports.Generation, error) {
		close(entered)
		select {
		case <-ctx.Done():
			<-release
			return ports.Generation{Content: "too late"}, nil
		case <-release:
			return ports.Generation{Content: "too late"}, nil
		}
	}
	id := valueobjects.NewThreadID()
	_, err := h.q.Ingest(context.Background(), inbound(id, "Lunch?"), Route{Autonomous: true})
	require.NoError(t, err)
	<-entered

	// Act
	_, busyErr := h.q.Approve(context.Background(), id, "")
	rejected, rejectErr := h.q.Reject(context.Background(), id)
	close(release)

	// Assert
	assert.True(t, apperrors.IsBusy(busyErr))
	require.NoError(t, rejectErr)
	assert.Equal(t, valueobjects.StatusRejected, rejected.Status)
	assert.Equal(t, valueobjects.OutcomeRejectedByOwner, rejected.Outcome)

	// the late generation must not move the thread
	time.Sleep(20 * time.Millisecond)
	record, err := h.q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.StatusRejected, record.Status)
	assert.Empty(t, record.Candidate)
	assert.Empty(t, h.sender.messages())
}

// gateSender holds every delivery until release is closed
type gateSender struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	inner   sender
}

func (s *gateSender) Send(ctx context.Context, endpoint string, msg entities.Message) (ports.Delivery, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.inner.Send(ctx, endpoint, msg)
}

func TestQueue_ActionsDuringDeliveryAreBusy(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	gate := &gateSender{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, testConfig(), newThreadStore(), func(d *Deps) { d.Sender = gate })
	id := valueobjects.NewThreadID()
	_, err := h.q.Ingest(context.Background(), inbound(id, "Lunch?"), Route{})
	require.NoError(t, err)

	type outcome struct {
		record aggregates.ThreadRecord
		err    error
	}
	approved := make(chan outcome, 1)
	go func() {
		r, err := h.q.Approve(context.Background(), id, "Tuesday, noon.")
		approved <- outcome{r, err}
	}()
	<-gate.entered

	// Act
	_, approveErr := h.q.Approve(context.Background(), id, "")
	_, rejectErr := h.q.Reject(context.Background(), id)
	close(gate.release)
	first := <-approved

	// Assert
	assert.True(t, apperrors.IsBusy(approveErr))
	assert.True(t, apperrors.IsBusy(rejectErr))
	require.NoError(t, first.err)
	assert.Equal(t, valueobjects.StatusSent, first.record.Status)

	record, err := h.q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.StatusSent, record.Status)
	stored, ok := h.store.get(id)
	require.True(t, ok)
	assert.Equal(t, valueobjects.StatusSent, stored.Status)
	assert.Len(t, gate.inner.messages(), 1)
}

func TestQueue_RejectParkedThreadConflicts(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	h.sender.setErr(apperrors.NewNetworkError("peer unreachable", errors.New("connection refused")))
	parked, err := h.q.Start(context.Background(), bob, "hello", "Are you around?", "general")
	require.Error(t, err)

	// Act
	_, err = h.q.Reject(context.Background(), parked.ID)

	// Assert
	assert.True(t, apperrors.IsConflict(err))
	record, err := h.q.Get(context.Background(), parked.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.StatusApproved, record.Status)
	assert.Equal(t, valueobjects.OutcomeUndeliverable, record.Outcome)
}

func TestQueue_UndeliverableReplyIsParkedAndResent(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	h.sender.setErr(apperrors.NewNetworkError("peer unreachable", errors.New("connection refused")))

	// Act
	parked, err := h.q.Start(context.Background(), bob, "hello", "Are you around?", "general")

	// Assert
	require.Error(t, err)
	assert.Equal(t, valueobjects.StatusApproved, parked.Status)
	assert.Equal(t, valueobjects.OutcomeUndeliverable, parked.Outcome)
	count, err := h.q.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Act
	h.sender.setErr(nil)
	sent, err := h.q.Approve(context.Background(), parked.ID, "")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, valueobjects.StatusSent, sent.Status)
	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Are you around?", msgs[0].Content)
	assert.Equal(t, valueobjects.TypeThreadMessage, msgs[0].Type())

	_, _, interactions := h.rec.snapshot()
	assert.Equal(t, []entities.Interaction{entities.InteractionFailure, entities.InteractionSuccess}, interactions)
}

func TestQueue_ReplyOnSentThreadMarksAnswered(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	record, err := h.q.Start(context.Background(), bob, "hello", "Are you around?", "general")
	require.NoError(t, err)
	reply := entities.NewMessage(record.ID, bob, alice, "Yes!", entities.ThreadReplyBody{}, t0)

	// Act
	receipt, err := h.q.Ingest(context.Background(), reply, Route{Autonomous: true})

	// Assert
	require.NoError(t, err)
	assert.False(t, receipt.Created)
	assert.Equal(t, valueobjects.StatusAnswered, receipt.Status)
	assert.Len(t, h.sender.messages(), 1)
}

func TestQueue_ApproveTerminalThreadConflicts(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	h := newHarness(t, testConfig(), newThreadStore(), nil)
	id := valueobjects.NewThreadID()
	_, err := h.q.IngestRejected(context.Background(), inbound(id, "spam"), "general", valueobjects.OutcomeBlocked)
	require.NoError(t, err)

	// Act
	_, approveErr := h.q.Approve(context.Background(), id, "hi")
	_, missingErr := h.q.Approve(context.Background(), valueobjects.NewThreadID(), "hi")

	// Assert
	var appErr *apperrors.AppError
	require.True(t, errors.As(approveErr, &appErr))
	assert.Equal(t, apperrors.ErrorTypeConflict, appErr.Type)
	assert.True(t, apperrors.IsNotFound(missingErr))
}

func TestQueue_FailedPersistLeavesIndexUntouched(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	store := newThreadStore()
	var failures int
	h := newHarness(t, testConfig(), store, func(d *Deps) {
		d.OnStorageFailure = func(error) { failures++ }
	})
	store.setFail(errors.New("disk full"))
	id := valueobjects.NewThreadID()

	// Act
	_, err := h.q.Ingest(context.Background(), inbound(id, "Lunch?"), Route{})

	// Assert
	assert.True(t, apperrors.IsStorageWriteFailed(err))
	assert.Equal(t, 1, failures)
	_, getErr := h.q.Get(context.Background(), id)
	assert.True(t, apperrors.IsNotFound(getErr))
	assert.Empty(t, h.pub.Events())
}

func TestQueue_RestoreParksInterruptedDelivery(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	id := valueobjects.NewThreadID()
	thread := aggregates.NewInboundThread(inbound(id, "Lunch?"), "general", t0)
	require.NoError(t, thread.Approve("Tuesday", false, false, t0))
	pending := aggregates.NewInboundThread(inbound(valueobjects.NewThreadID(), "Dinner?"), "general", t0.Add(time.Minute))
	store := newThreadStore(thread.ToRecord(), pending.ToRecord())

	// Act
	h := newHarness(t, testConfig(), store, nil)

	// Assert
	record, err := h.q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.OutcomeUndeliverable, record.Outcome)

	list, err := h.q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id, list[0].ThreadID)
	assert.True(t, list[0].Parked)
	assert.Empty(t, h.sender.messages())
}

func TestQueue_StoppedQueueRefusesWork(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	// Arrange
	q := New(testConfig(), Deps{Store: newThreadStore()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	require.NoError(t, q.Run(ctx))
	_, err := q.List(context.Background())

	// Assert
	assert.ErrorIs(t, err, ErrStopped)
}

func TestPreview(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'é'
	}

	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "short text is kept", in: "hello", want: 5},
		{name: "long text is cut on runes", in: string(long), want: previewLength + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, []rune(preview(tt.in)), tt.want)
		})
	}
}
