package aggregates

import (
	"errors"
	"fmt"
	"time"

	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"
)

var (
	// ErrInvalidTransition is returned for transitions the state machine forbids
	ErrInvalidTransition = errors.New("invalid thread transition")
	// ErrTerminalThread is returned for owner actions on finished threads
	ErrTerminalThread = errors.New("thread is in a terminal state")
	// ErrNothingToSend is returned when approval has no content
	ErrNothingToSend = errors.New("approved content is empty")
)

// Thread is the aggregate root for one conversation with one peer. It owns
// the status machine, message history, and the reply awaiting delivery.
type Thread struct {
	id        valueobjects.ThreadID
	peer      valueobjects.DID
	domain    string
	subject   string
	status    valueobjects.ThreadStatus
	outcome   valueobjects.Outcome
	messages  []entities.Message
	candidate string
	outbound  string
	edited    bool
	createdAt time.Time
	updatedAt time.Time

	events []events.DomainEvent
}

// NewInboundThread starts a thread from the first message a peer sent
func NewInboundThread(msg entities.Message, domain string, now time.Time) *Thread {
	t := &Thread{
		id:        msg.ThreadID,
		peer:      msg.From,
		domain:    domain,
		status:    valueobjects.StatusPendingReview,
		messages:  []entities.Message{msg},
		createdAt: now,
		updatedAt: now,
	}
	if body, ok := msg.Body.(entities.ThreadMessageBody); ok {
		t.subject = body.Subject
	}
	t.addEvent(events.NewThreadCreated(t.id, t.peer, t.status, domain, false, now))
	return t
}

// NewRejectedThread stores an inbound message that policy refused before
// review, recording why.
func NewRejectedThread(msg entities.Message, domain string, outcome valueobjects.Outcome, now time.Time) *Thread {
	t := NewInboundThread(msg, domain, now)
	t.status = valueobjects.StatusRejected
	t.outcome = outcome
	t.events = nil
	t.addEvent(events.NewThreadCreated(t.id, t.peer, t.status, domain, false, now))
	return t
}

// NewOutboundThread starts a thread the owner initiated. The owner wrote
// the content, so it is approved from the start.
func NewOutboundThread(id valueobjects.ThreadID, peer valueobjects.DID, subject, content, domain string, now time.Time) (*Thread, error) {
	if content == "" {
		return nil, ErrNothingToSend
	}
	t := &Thread{
		id:        id,
		peer:      peer,
		domain:    domain,
		subject:   subject,
		status:    valueobjects.StatusApproved,
		outbound:  content,
		createdAt: now,
		updatedAt: now,
	}
	t.addEvent(events.NewThreadCreated(t.id, t.peer, t.status, domain, true, now))
	return t, nil
}

// Getters

func (t *Thread) ID() valueobjects.ThreadID         { return t.id }
func (t *Thread) Peer() valueobjects.DID            { return t.peer }
func (t *Thread) Domain() string                    { return t.domain }
func (t *Thread) Subject() string                   { return t.subject }
func (t *Thread) Status() valueobjects.ThreadStatus { return t.status }
func (t *Thread) Outcome() valueobjects.Outcome     { return t.outcome }
func (t *Thread) Candidate() string                 { return t.candidate }
func (t *Thread) Outbound() string                  { return t.outbound }
func (t *Thread) Edited() bool                      { return t.edited }
func (t *Thread) CreatedAt() time.Time              { return t.createdAt }
func (t *Thread) UpdatedAt() time.Time              { return t.updatedAt }

// Messages returns a copy of the history
func (t *Thread) Messages() []entities.Message {
	return append([]entities.Message(nil), t.messages...)
}

// LastMessage returns the most recent message, if any
func (t *Thread) LastMessage() (entities.Message, bool) {
	if len(t.messages) == 0 {
		return entities.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// LastInbound returns the latest message sent by the peer
func (t *Thread) LastInbound() (entities.Message, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].From.Equals(t.peer) {
			return t.messages[i], true
		}
	}
	return entities.Message{}, false
}

// IsParked reports whether an approved reply is waiting for a resend
func (t *Thread) IsParked() bool {
	return t.status.IsApproved() && t.outcome == valueobjects.OutcomeUndeliverable
}

// Business methods

// AppendInbound adds a peer message. A message on a sent thread answers it;
// on other terminal threads it is kept without a transition.
func (t *Thread) AppendInbound(msg entities.Message, now time.Time) error {
	if !msg.From.Equals(t.peer) {
		return fmt.Errorf("message from %s does not belong to thread with %s", msg.From, t.peer)
	}
	t.messages = append(t.messages, msg)
	t.touch(now)
	t.addEvent(events.NewMessageAppended(t.id, msg.Type(), true, now))

	if t.status == valueobjects.StatusSent {
		return t.transitionTo(valueobjects.StatusAnswered, valueobjects.OutcomeNone, now)
	}
	return nil
}

// SetCandidate stores the engine's proposal. An uncertain candidate is kept
// for the owner and never sent automatically.
func (t *Thread) SetCandidate(candidate string, uncertain bool, now time.Time) {
	t.candidate = candidate
	if uncertain {
		t.outcome = valueobjects.OutcomeUncertain
	}
	t.touch(now)
	t.addEvent(events.NewCandidateGenerated(t.id, uncertain, now))
}

// MarkGenerationFailed leaves the thread waiting for the owner
func (t *Thread) MarkGenerationFailed(reason string, now time.Time) {
	t.outcome = valueobjects.OutcomeGenerationFailed
	t.touch(now)
	t.addEvent(events.NewGenerationFailed(t.id, reason, now))
}

// Approve moves a pending thread to approved (owner) or auto_approved and
// fixes the content that will be sent. A parked thread may be approved again
// to retry delivery.
func (t *Thread) Approve(content string, edited, auto bool, now time.Time) error {
	if content == "" {
		return ErrNothingToSend
	}
	if t.IsParked() && !auto {
		t.outbound = content
		t.edited = t.edited || edited
		t.outcome = valueobjects.OutcomeNone
		t.touch(now)
		return nil
	}
	if t.status.IsTerminal() {
		return ErrTerminalThread
	}

	target := valueobjects.StatusApproved
	if auto {
		target = valueobjects.StatusAutoApproved
	}
	if err := t.transitionTo(target, valueobjects.OutcomeNone, now); err != nil {
		return err
	}
	t.outbound = content
	t.edited = edited
	return nil
}

// MarkSent records the delivered message and completes the outbound leg
func (t *Thread) MarkSent(msg entities.Message, now time.Time) error {
	if err := t.transitionTo(valueobjects.StatusSent, valueobjects.OutcomeNone, now); err != nil {
		return err
	}
	t.messages = append(t.messages, msg)
	t.addEvent(events.NewMessageAppended(t.id, msg.Type(), false, now))
	return nil
}

// MarkUndeliverable parks an approved thread after delivery gave up
func (t *Thread) MarkUndeliverable(reason string, now time.Time) error {
	if !t.status.IsApproved() {
		return fmt.Errorf("%w: cannot park thread in %s", ErrInvalidTransition, t.status)
	}
	t.outcome = valueobjects.OutcomeUndeliverable
	t.touch(now)
	t.addEvent(events.NewDeliveryFailed(t.id, t.peer, reason, now))
	return nil
}

// Reject ends the thread without a reply
func (t *Thread) Reject(outcome valueobjects.Outcome, now time.Time) error {
	if t.status.IsTerminal() {
		return ErrTerminalThread
	}
	return t.transitionTo(valueobjects.StatusRejected, outcome, now)
}

func (t *Thread) transitionTo(target valueobjects.ThreadStatus, outcome valueobjects.Outcome, now time.Time) error {
	if !t.status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, target)
	}
	from := t.status
	t.status = target
	t.outcome = outcome
	t.touch(now)
	t.addEvent(events.NewThreadStatusChanged(t.id, from, target, outcome, now))
	return nil
}

func (t *Thread) touch(now time.Time) {
	t.updatedAt = now
}

// Clone returns an independent copy without pending events. Callers mutate
// the clone and swap it in only after it was persisted.
func (t *Thread) Clone() *Thread {
	c := *t
	c.messages = append([]entities.Message(nil), t.messages...)
	c.events = nil
	return &c
}

// Event management

func (t *Thread) addEvent(event events.DomainEvent) {
	t.events = append(t.events, event)
}

// GetUncommittedEvents returns events raised since the last commit
func (t *Thread) GetUncommittedEvents() []events.DomainEvent {
	return t.events
}

// MarkEventsAsCommitted clears the pending events
func (t *Thread) MarkEventsAsCommitted() {
	t.events = nil
}

// Persistence

// ThreadRecord is the durable form of a thread
type ThreadRecord struct {
	ID        valueobjects.ThreadID     `json:"thread_id"`
	Peer      valueobjects.DID          `json:"peer_did"`
	Domain    string                    `json:"domain"`
	Subject   string                    `json:"subject,omitempty"`
	Status    valueobjects.ThreadStatus `json:"status"`
	Outcome   valueobjects.Outcome      `json:"outcome,omitempty"`
	Messages  []entities.Message        `json:"messages"`
	Candidate string                    `json:"candidate,omitempty"`
	Outbound  string                    `json:"outbound,omitempty"`
	Edited    bool                      `json:"edited,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// ToRecord converts the aggregate to its durable form
func (t *Thread) ToRecord() ThreadRecord {
	return ThreadRecord{
		ID:        t.id,
		Peer:      t.peer,
		Domain:    t.domain,
		Subject:   t.subject,
		Status:    t.status,
		Outcome:   t.outcome,
		Messages:  t.Messages(),
		Candidate: t.candidate,
		Outbound:  t.outbound,
		Edited:    t.edited,
		CreatedAt: t.createdAt,
		UpdatedAt: t.updatedAt,
	}
}

// ThreadFromRecord rebuilds the aggregate after a restart
func ThreadFromRecord(r ThreadRecord) (*Thread, error) {
	if r.ID.IsZero() || r.Peer.IsZero() {
		return nil, errors.New("thread record is missing its id or peer")
	}
	if _, err := valueobjects.ParseThreadStatus(string(r.Status)); err != nil {
		return nil, err
	}
	return &Thread{
		id:        r.ID,
		peer:      r.Peer,
		domain:    r.Domain,
		subject:   r.Subject,
		status:    r.Status,
		outcome:   r.Outcome,
		messages:  append([]entities.Message(nil), r.Messages...),
		candidate: r.Candidate,
		outbound:  r.Outbound,
		edited:    r.Edited,
		createdAt: r.CreatedAt,
		updatedAt: r.UpdatedAt,
	}, nil
}
