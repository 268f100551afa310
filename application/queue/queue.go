// Package queue owns every thread of the node. A single goroutine holds the
// thread index; callers post operations to it and wait for the reply, and
// engine or network work runs in tasks whose completions are posted back.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"esence/application/ports"
	"esence/application/services"
	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"
	"esence/pkg/observability"
	"esence/pkg/utils"

	domainsvc "esence/domain/services"
	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// ErrStopped is returned once the queue has shut down
var ErrStopped = errors.New("queue stopped")

// errCancelled is handed to waiters of a task the owner rejected
var errCancelled = errors.New("action cancelled by rejection")

// EndpointResolver finds where messages for a peer are posted
type EndpointResolver interface {
	Endpoint(ctx context.Context, did valueobjects.DID) (string, error)
}

// UsageRecorder charges the capacity ledger for engine work done for a peer
type UsageRecorder interface {
	Record(ctx context.Context, peer valueobjects.DID, units int64) error
}

// CorrectionLogger records owner edits
type CorrectionLogger interface {
	Log(ctx context.Context, in services.CorrectionInput) (*entities.Correction, error)
}

// InteractionRecorder feeds delivery outcomes into peer trust
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, did valueobjects.DID, outcome entities.Interaction) (entities.Peer, error)
}

// EssenceFunc returns the owner material an engine personalizes with
type EssenceFunc func(ctx context.Context) ports.Essence

// Route tells Ingest how a conversational message was routed
type Route struct {
	Domain     string
	Autonomous bool
	// Admitted lets a follow-up on an existing thread spend a draft
	// generation. New threads are admitted before they reach the queue.
	Admitted bool
}

// Config tunes the queue
type Config struct {
	GenerationTimeout time.Duration
	DeliveryTimeout   time.Duration
	// DraftOnArrival pre-generates a candidate for threads awaiting review
	DraftOnArrival bool
}

// DefaultConfig returns the queue defaults
func DefaultConfig() Config {
	return Config{
		GenerationTimeout: 2 * time.Minute,
		DeliveryTimeout:   2 * time.Minute,
	}
}

// Deps are the collaborators of the queue. Corrections, Usage, Peers and
// Essence may be nil.
type Deps struct {
	Store       ports.ThreadStore
	Engine      ports.EssenceEngine
	Signer      ports.MessageSigner
	Sender      ports.Sender
	Endpoints   EndpointResolver
	Usage       UsageRecorder
	Corrections CorrectionLogger
	Peers       InteractionRecorder
	Essence     EssenceFunc
	Uncertainty domainsvc.UncertaintyPredicate
	Publisher   ports.EventPublisher
	// OnStorageFailure is called whenever a thread could not be persisted
	OnStorageFailure func(err error)
	Clock            utils.Clock
	Logger           *zap.Logger
	Metrics          *observability.Metrics
}

type purpose int

const (
	purposeAuto purpose = iota
	purposeDraft
	purposeApprove
	purposeSend
)

func (p purpose) String() string {
	switch p {
	case purposeAuto:
		return "auto"
	case purposeDraft:
		return "draft"
	case purposeApprove:
		return "approve"
	default:
		return "send"
	}
}

// task is one in-flight generation or delivery
type task struct {
	seq     uint64
	purpose purpose
	cancel  context.CancelFunc
	waiters []chan Result
}

// Queue is the thread actor
type Queue struct {
	cfg  Config
	deps Deps

	ops     chan func()
	stopped chan struct{}
	started bool
	tasks   sync.WaitGroup

	// owned by the actor goroutine once Run starts
	threads  map[string]*aggregates.Thread
	inflight map[string]*task
	seq      uint64
	taskCtx  context.Context

	logger *zap.Logger
}

// New creates a queue. Call Restore before Run to load persisted threads.
func New(cfg Config, deps Deps) *Queue {
	if deps.Clock == nil {
		deps.Clock = utils.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Uncertainty == nil {
		deps.Uncertainty = domainsvc.NeverUncertain
	}
	if deps.Essence == nil {
		deps.Essence = func(context.Context) ports.Essence { return ports.Essence{} }
	}
	return &Queue{
		cfg:      cfg,
		deps:     deps,
		ops:      make(chan func()),
		stopped:  make(chan struct{}),
		threads:  make(map[string]*aggregates.Thread),
		inflight: make(map[string]*task),
		taskCtx:  context.Background(),
		logger:   deps.Logger.Named("queue"),
	}
}

// Restore rebuilds the index from the thread store. Approved threads whose
// delivery was interrupted by a restart are parked for the owner.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.started {
		return 0, errors.New("restore must run before the queue starts")
	}
	records, err := q.deps.Store.LoadThreads(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load threads: %w", err)
	}

	now := q.deps.Clock.Now()
	for _, r := range records {
		t, err := aggregates.ThreadFromRecord(r)
		if err != nil {
			q.logger.Warn("skipping unreadable thread", zap.String("thread_id", r.ID.String()), zap.Error(err))
			continue
		}
		if t.Status().IsApproved() && !t.IsParked() {
			parked := t.Clone()
			if err := parked.MarkUndeliverable("interrupted by restart", now); err == nil {
				if err := q.deps.Store.SaveThread(ctx, parked.ToRecord()); err == nil {
					parked.MarkEventsAsCommitted()
					t = parked
				}
			}
		}
		q.threads[t.ID().String()] = t
	}
	q.logger.Info("threads restored", zap.Int("count", len(q.threads)))
	return len(q.threads), nil
}

// Run processes operations until ctx is cancelled. In-flight tasks are
// cancelled and awaited before Run returns.
func (q *Queue) Run(ctx context.Context) error {
	q.started = true
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	q.taskCtx = taskCtx

	defer func() {
		for id, tk := range q.inflight {
			tk.cancel()
			for _, w := range tk.waiters {
				w <- Result{Err: ErrStopped}
			}
			delete(q.inflight, id)
		}
		cancelTasks()
		close(q.stopped)
		q.tasks.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-q.ops:
			fn()
		}
	}
}

// call runs fn on the actor goroutine and waits for it
func (q *Queue) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case q.ops <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopped:
		return ErrStopped
	}
}

// post hands a task completion back to the actor. It gives up once the
// queue stopped.
func (q *Queue) post(fn func()) {
	select {
	case q.ops <- fn:
	case <-q.stopped:
	}
}

func wait(ctx context.Context, ch <-chan Result) (aggregates.ThreadRecord, error) {
	select {
	case res := <-ch:
		return res.Thread, res.Err
	case <-ctx.Done():
		return aggregates.ThreadRecord{}, ctx.Err()
	}
}

// Ingest stores a verified conversational message. A new thread starts
// pending; an autonomous route also starts generation right away.
func (q *Queue) Ingest(ctx context.Context, msg entities.Message, route Route) (Receipt, error) {
	var receipt Receipt
	var opErr error
	err := q.call(ctx, func() {
		now := q.deps.Clock.Now()
		key := msg.ThreadID.String()

		var next *aggregates.Thread
		if cur, ok := q.threads[key]; ok {
			next = cur.Clone()
			if err := next.AppendInbound(msg, now); err != nil {
				opErr = apperrors.NewValidationError(err.Error())
				return
			}
		} else {
			next = aggregates.NewInboundThread(msg, route.Domain, now)
			receipt.Created = true
		}
		if opErr = q.commit(ctx, next); opErr != nil {
			return
		}
		receipt.ThreadID, receipt.Status = next.ID(), next.Status()

		if next.Status() != valueobjects.StatusPendingReview || q.inflight[key] != nil {
			return
		}
		if !receipt.Created && !route.Admitted {
			return
		}
		switch {
		case route.Autonomous:
			q.spawnGenerate(next, purposeAuto, nil)
		case q.cfg.DraftOnArrival:
			q.spawnGenerate(next, purposeDraft, nil)
		}
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, opErr
}

// IngestRejected stores a message that policy refused, recording why. The
// message is kept for the owner but never answered.
func (q *Queue) IngestRejected(ctx context.Context, msg entities.Message, domain string, outcome valueobjects.Outcome) (Receipt, error) {
	var receipt Receipt
	var opErr error
	err := q.call(ctx, func() {
		now := q.deps.Clock.Now()
		var next *aggregates.Thread
		if cur, ok := q.threads[msg.ThreadID.String()]; ok {
			next = cur.Clone()
			if err := next.AppendInbound(msg, now); err != nil {
				opErr = apperrors.NewValidationError(err.Error())
				return
			}
		} else {
			next = aggregates.NewRejectedThread(msg, domain, outcome, now)
			receipt.Created = true
		}
		if opErr = q.commit(ctx, next); opErr != nil {
			return
		}
		receipt.ThreadID, receipt.Status = next.ID(), next.Status()
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, opErr
}

// Approve sends a reply on a pending thread and waits for delivery. A
// non-empty editedReply is sent verbatim and logged as a correction when it
// differs from the candidate; otherwise the candidate is sent, generating it
// first when there is none. Approving a parked thread resends it.
func (q *Queue) Approve(ctx context.Context, id valueobjects.ThreadID, editedReply string) (aggregates.ThreadRecord, error) {
	waiter := make(chan Result, 1)
	var opErr error
	var correction *services.CorrectionInput

	err := q.call(ctx, func() {
		key := id.String()
		cur, ok := q.threads[key]
		if !ok {
			opErr = apperrors.NewNotFoundError("thread")
			return
		}
		if q.inflight[key] != nil {
			opErr = apperrors.NewBusyError(key)
			return
		}
		now := q.deps.Clock.Now()

		if !cur.IsParked() {
			if cur.Status().IsTerminal() {
				opErr = apperrors.NewConflictError(fmt.Sprintf("thread %s is %s", key, cur.Status()))
				return
			}
			if cur.Status() != valueobjects.StatusPendingReview {
				opErr = apperrors.NewConflictError(fmt.Sprintf("thread %s is already %s", key, cur.Status()))
				return
			}
			if editedReply == "" && cur.Candidate() == "" {
				q.spawnGenerate(cur, purposeApprove, waiter)
				return
			}
		}

		content := editedReply
		if content == "" {
			content = cur.Candidate()
			if cur.IsParked() {
				content = cur.Outbound()
			}
		}
		edited := editedReply != "" && editedReply != cur.Candidate()

		next := cur.Clone()
		if err := next.Approve(content, edited, false, now); err != nil {
			opErr = apperrors.NewConflictError(err.Error())
			return
		}
		if opErr = q.commit(ctx, next); opErr != nil {
			return
		}
		if edited && !cur.IsParked() {
			correction = &services.CorrectionInput{
				ThreadID:  next.ID(),
				Peer:      next.Peer(),
				Domain:    next.Domain(),
				Candidate: cur.Candidate(),
				Final:     editedReply,
			}
		}
		q.spawnSend(next, waiter)
	})
	if err != nil {
		return aggregates.ThreadRecord{}, err
	}
	if opErr != nil {
		return aggregates.ThreadRecord{}, opErr
	}

	if correction != nil && q.deps.Corrections != nil {
		if _, err := q.deps.Corrections.Log(ctx, *correction); err != nil {
			q.logger.Error("failed to log correction", zap.String("thread_id", id.String()), zap.Error(err))
		}
	}
	return wait(ctx, waiter)
}

// Reject ends a pending thread without a reply. A generation in flight is
// cancelled and its late result discarded; a delivery in flight makes the
// thread Busy. Approved threads, parked ones included, cannot be rejected.
func (q *Queue) Reject(ctx context.Context, id valueobjects.ThreadID) (aggregates.ThreadRecord, error) {
	var record aggregates.ThreadRecord
	var opErr error
	err := q.call(ctx, func() {
		key := id.String()
		cur, ok := q.threads[key]
		if !ok {
			opErr = apperrors.NewNotFoundError("thread")
			return
		}
		if tk := q.inflight[key]; tk != nil && tk.purpose == purposeSend {
			opErr = apperrors.NewBusyError(key)
			return
		}
		if cur.Status() != valueobjects.StatusPendingReview {
			opErr = apperrors.NewConflictError(fmt.Sprintf("thread %s is %s", key, cur.Status()))
			return
		}

		next := cur.Clone()
		if err := next.Reject(valueobjects.OutcomeRejectedByOwner, q.deps.Clock.Now()); err != nil {
			opErr = apperrors.NewConflictError(err.Error())
			return
		}
		if opErr = q.commit(ctx, next); opErr != nil {
			return
		}
		if tk := q.inflight[key]; tk != nil {
			tk.cancel()
			for _, w := range tk.waiters {
				w <- Result{Thread: next.ToRecord(), Err: errCancelled}
			}
			delete(q.inflight, key)
			q.logger.Info("cancelled in-flight task", zap.String("thread_id", key), zap.String("purpose", tk.purpose.String()))
		}
		record = next.ToRecord()
	})
	if err != nil {
		return aggregates.ThreadRecord{}, err
	}
	return record, opErr
}

// Start opens an owner-initiated thread and waits for its delivery
func (q *Queue) Start(ctx context.Context, to valueobjects.DID, subject, content, domain string) (aggregates.ThreadRecord, error) {
	waiter := make(chan Result, 1)
	var opErr error
	err := q.call(ctx, func() {
		t, err := aggregates.NewOutboundThread(valueobjects.NewThreadID(), to, subject, content, domain, q.deps.Clock.Now())
		if err != nil {
			opErr = apperrors.NewValidationError(err.Error())
			return
		}
		if opErr = q.commit(ctx, t); opErr != nil {
			return
		}
		q.spawnSend(t, waiter)
	})
	if err != nil {
		return aggregates.ThreadRecord{}, err
	}
	if opErr != nil {
		return aggregates.ThreadRecord{}, opErr
	}
	return wait(ctx, waiter)
}

// Get returns one thread
func (q *Queue) Get(ctx context.Context, id valueobjects.ThreadID) (aggregates.ThreadRecord, error) {
	var record aggregates.ThreadRecord
	found := false
	err := q.call(ctx, func() {
		if t, ok := q.threads[id.String()]; ok {
			record, found = t.ToRecord(), true
		}
	})
	if err != nil {
		return aggregates.ThreadRecord{}, err
	}
	if !found {
		return aggregates.ThreadRecord{}, apperrors.NewNotFoundError("thread")
	}
	return record, nil
}

// Pending lists threads awaiting the owner, oldest first
func (q *Queue) Pending(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := q.call(ctx, func() {
		threads := make([]*aggregates.Thread, 0)
		for _, t := range q.threads {
			if t.Status() == valueobjects.StatusPendingReview || t.IsParked() {
				threads = append(threads, t)
			}
		}
		sort.SliceStable(threads, func(i, j int) bool {
			return threads[i].CreatedAt().Before(threads[j].CreatedAt())
		})
		out = make([]Summary, 0, len(threads))
		for _, t := range threads {
			out = append(out, summarize(t, q.inflight[t.ID().String()] != nil))
		}
	})
	return out, err
}

// List returns every thread, most recently updated first
func (q *Queue) List(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := q.call(ctx, func() {
		out = make([]Summary, 0, len(q.threads))
		for key, t := range q.threads {
			out = append(out, summarize(t, q.inflight[key] != nil))
		}
		sortSummaries(out)
	})
	return out, err
}

// PendingCount counts threads awaiting the owner
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	count := 0
	err := q.call(ctx, func() {
		for _, t := range q.threads {
			if t.Status() == valueobjects.StatusPendingReview || t.IsParked() {
				count++
			}
		}
	})
	return count, err
}

// commit persists t and only then swaps it into the index and publishes its
// events. On failure the index is untouched.
func (q *Queue) commit(ctx context.Context, t *aggregates.Thread) error {
	if err := q.deps.Store.SaveThread(ctx, t.ToRecord()); err != nil {
		q.logger.Error("failed to persist thread", zap.String("thread_id", t.ID().String()), zap.Error(err))
		if q.deps.OnStorageFailure != nil {
			q.deps.OnStorageFailure(err)
		}
		if !apperrors.IsStorageWriteFailed(err) {
			err = apperrors.NewStorageWriteFailedError("thread", err)
		}
		return err
	}

	evts := t.GetUncommittedEvents()
	t.MarkEventsAsCommitted()
	q.threads[t.ID().String()] = t

	for _, evt := range evts {
		if sc, ok := evt.(events.ThreadStatusChanged); ok {
			q.deps.Metrics.ObserveTransition(string(sc.To))
		}
	}
	if len(evts) > 0 && q.deps.Publisher != nil {
		q.deps.Publisher.Publish(evts...)
	}
	return nil
}

func (q *Queue) newTask(key string, p purpose, timeout time.Duration, waiter chan Result) (context.Context, uint64) {
	q.seq++
	ctx, cancel := context.WithTimeout(q.taskCtx, timeout)
	tk := &task{seq: q.seq, purpose: p, cancel: cancel}
	if waiter != nil {
		tk.waiters = append(tk.waiters, waiter)
	}
	q.inflight[key] = tk
	q.tasks.Add(1)
	return ctx, tk.seq
}

// finish removes the task if it is still the current one for key
func (q *Queue) finish(key string, seq uint64) (*task, bool) {
	tk, ok := q.inflight[key]
	if !ok || tk.seq != seq {
		return nil, false
	}
	tk.cancel()
	delete(q.inflight, key)
	return tk, true
}

func (q *Queue) spawnGenerate(t *aggregates.Thread, p purpose, waiter chan Result) {
	key := t.ID().String()
	ctx, seq := q.newTask(key, p, q.cfg.GenerationTimeout, waiter)

	req := ports.GenerationRequest{
		ThreadID: t.ID(),
		Peer:     t.Peer().String(),
		Domain:   t.Domain(),
		Subject:  t.Subject(),
		History:  t.Messages(),
	}
	peer := t.Peer()

	go func() {
		defer q.tasks.Done()
		req.Essence = q.deps.Essence(ctx)

		began := time.Now()
		gen, err := q.deps.Engine.Generate(ctx, req)
		if err == nil && gen.Content == "" {
			err = errors.New("engine returned an empty reply")
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		q.deps.Metrics.ObserveGeneration(result, time.Since(began).Seconds())

		if err == nil && q.deps.Usage != nil {
			if uerr := q.deps.Usage.Record(ctx, peer, gen.Units()); uerr != nil {
				q.logger.Warn("failed to record usage", zap.String("thread_id", key), zap.Error(uerr))
			}
		}
		q.post(func() { q.finishGenerate(key, seq, req.Essence.Maturity, gen, err) })
	}()
}

func (q *Queue) finishGenerate(key string, seq uint64, maturity float64, gen ports.Generation, genErr error) {
	tk, ok := q.finish(key, seq)
	if !ok {
		q.logger.Debug("discarding late generation", zap.String("thread_id", key))
		return
	}
	cur := q.threads[key]
	ctx := q.taskCtx
	now := q.deps.Clock.Now()
	next := cur.Clone()

	if genErr != nil {
		q.logger.Warn("generation failed", zap.String("thread_id", key), zap.String("purpose", tk.purpose.String()), zap.Error(genErr))
		next.MarkGenerationFailed(genErr.Error(), now)
		err := q.commit(ctx, next)
		if err == nil {
			err = apperrors.NewGenerationFailedError(key, genErr)
		}
		q.reply(tk.waiters, next, err)
		return
	}

	inbound := ""
	if last, ok := cur.LastInbound(); ok {
		inbound = last.Content
	}
	uncertain := gen.Uncertain || q.deps.Uncertainty(domainsvc.CandidateContext{
		Domain:    cur.Domain(),
		Inbound:   inbound,
		Candidate: gen.Content,
		Maturity:  maturity,
	})

	switch {
	case tk.purpose == purposeDraft || (tk.purpose == purposeAuto && uncertain):
		next.SetCandidate(gen.Content, uncertain, now)
		if err := q.commit(ctx, next); err != nil {
			q.reply(tk.waiters, cur, err)
			return
		}
		if uncertain && tk.purpose == purposeAuto {
			q.logger.Info("uncertain candidate held for review", zap.String("thread_id", key))
		}
		q.reply(tk.waiters, next, nil)
	default:
		next.SetCandidate(gen.Content, false, now)
		if err := next.Approve(gen.Content, false, tk.purpose == purposeAuto, now); err != nil {
			q.reply(tk.waiters, cur, apperrors.NewConflictError(err.Error()))
			return
		}
		if err := q.commit(ctx, next); err != nil {
			q.reply(tk.waiters, cur, err)
			return
		}
		q.spawnSend(next, nil, tk.waiters...)
	}
}

func (q *Queue) spawnSend(t *aggregates.Thread, waiter chan Result, more ...chan Result) {
	key := t.ID().String()
	ctx, seq := q.newTask(key, purposeSend, q.cfg.DeliveryTimeout, waiter)
	q.inflight[key].waiters = append(q.inflight[key].waiters, more...)

	peer := t.Peer()
	content := t.Outbound()
	threadID := t.ID()
	var body entities.Body = entities.ThreadMessageBody{Subject: t.Subject()}
	if _, ok := t.LastInbound(); ok {
		body = entities.ThreadReplyBody{}
	}

	go func() {
		defer q.tasks.Done()
		msg, err := q.deliver(ctx, threadID, peer, content, body)

		if q.deps.Peers != nil && !errors.Is(err, context.Canceled) {
			outcome := entities.InteractionSuccess
			if err != nil {
				outcome = entities.InteractionFailure
			}
			if _, rerr := q.deps.Peers.RecordInteraction(ctx, peer, outcome); rerr != nil {
				q.logger.Warn("failed to record interaction", zap.String("peer", peer.String()), zap.Error(rerr))
			}
		}
		q.post(func() { q.finishSend(key, seq, msg, err) })
	}()
}

func (q *Queue) deliver(ctx context.Context, threadID valueobjects.ThreadID, peer valueobjects.DID, content string, body entities.Body) (entities.Message, error) {
	endpoint, err := q.deps.Endpoints.Endpoint(ctx, peer)
	if err != nil {
		return entities.Message{}, err
	}
	msg := entities.NewMessage(threadID, q.deps.Signer.DID(), peer, content, body, q.deps.Clock.Now())
	signed, err := q.deps.Signer.SignMessage(msg)
	if err != nil {
		return entities.Message{}, err
	}
	if _, err := q.deps.Sender.Send(ctx, endpoint, signed); err != nil {
		return signed, err
	}
	return signed, nil
}

func (q *Queue) finishSend(key string, seq uint64, msg entities.Message, sendErr error) {
	tk, ok := q.finish(key, seq)
	if !ok {
		q.logger.Debug("discarding late delivery result", zap.String("thread_id", key))
		return
	}
	cur := q.threads[key]
	now := q.deps.Clock.Now()
	next := cur.Clone()

	if sendErr != nil {
		q.logger.Warn("delivery failed, thread parked", zap.String("thread_id", key), zap.Error(sendErr))
		if err := next.MarkUndeliverable(sendErr.Error(), now); err != nil {
			q.reply(tk.waiters, cur, err)
			return
		}
		err := q.commit(q.taskCtx, next)
		if err == nil {
			err = sendErr
		}
		q.reply(tk.waiters, next, err)
		return
	}

	if err := next.MarkSent(msg, now); err != nil {
		q.reply(tk.waiters, cur, apperrors.NewConflictError(err.Error()))
		return
	}
	if err := q.commit(q.taskCtx, next); err != nil {
		q.reply(tk.waiters, cur, err)
		return
	}
	q.reply(tk.waiters, next, nil)
}

func (q *Queue) reply(waiters []chan Result, t *aggregates.Thread, err error) {
	if len(waiters) == 0 {
		return
	}
	record := t.ToRecord()
	for _, w := range waiters {
		w <- Result{Thread: record, Err: err}
	}
}
