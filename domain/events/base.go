package events

import (
	"time"

	"esence/domain/core/valueobjects"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

func newBase(aggregateID, eventType string, timestamp time.Time) BaseEvent {
	return BaseEvent{
		AggregateID: aggregateID,
		EventType:   eventType,
		Timestamp:   timestamp,
		Version:     1,
	}
}

// Event type names as they appear on the push channel
const (
	TypeThreadCreated      = "thread.created"
	TypeThreadStatus       = "thread.status_changed"
	TypeMessageAppended    = "thread.message_appended"
	TypeCandidateGenerated = "thread.candidate_generated"
	TypeGenerationFailed   = "thread.generation_failed"
	TypeDeliveryFailed     = "thread.delivery_failed"
	TypeCorrectionLogged   = "essence.correction_logged"
	TypePatternsUpdated    = "essence.patterns_updated"
	TypeMaturityChanged    = "essence.maturity_changed"
	TypePeerUpdated        = "peer.updated"
	TypePeerRemoved        = "peer.removed"
	TypePeersDiscovered    = "peer.discovered"
	TypeMoodChanged        = "node.mood_changed"
	TypeCapacityDenied     = "capacity.denied"
	TypeBudgetRolledOver   = "capacity.rolled_over"
	TypeHealthDegraded     = "node.health_degraded"
	TypeHeartbeat          = "node.heartbeat"
)

// Thread Events

// ThreadCreated is raised when the first message of a thread is stored
type ThreadCreated struct {
	BaseEvent
	ThreadID valueobjects.ThreadID     `json:"thread_id"`
	PeerDID  valueobjects.DID          `json:"peer_did"`
	Status   valueobjects.ThreadStatus `json:"status"`
	Domain   string                    `json:"domain"`
	Outbound bool                      `json:"outbound"`
}

// NewThreadCreated creates a ThreadCreated event
func NewThreadCreated(id valueobjects.ThreadID, peer valueobjects.DID, status valueobjects.ThreadStatus, domain string, outbound bool, timestamp time.Time) ThreadCreated {
	return ThreadCreated{
		BaseEvent: newBase(id.String(), TypeThreadCreated, timestamp),
		ThreadID:  id,
		PeerDID:   peer,
		Status:    status,
		Domain:    domain,
		Outbound:  outbound,
	}
}

// ThreadStatusChanged is raised on every state machine transition
type ThreadStatusChanged struct {
	BaseEvent
	ThreadID valueobjects.ThreadID     `json:"thread_id"`
	From     valueobjects.ThreadStatus `json:"from"`
	To       valueobjects.ThreadStatus `json:"to"`
	Outcome  valueobjects.Outcome      `json:"outcome,omitempty"`
}

// NewThreadStatusChanged creates a ThreadStatusChanged event
func NewThreadStatusChanged(id valueobjects.ThreadID, from, to valueobjects.ThreadStatus, outcome valueobjects.Outcome, timestamp time.Time) ThreadStatusChanged {
	return ThreadStatusChanged{
		BaseEvent: newBase(id.String(), TypeThreadStatus, timestamp),
		ThreadID:  id,
		From:      from,
		To:        to,
		Outcome:   outcome,
	}
}

// MessageAppended is raised when a message joins a thread's history
type MessageAppended struct {
	BaseEvent
	ThreadID valueobjects.ThreadID    `json:"thread_id"`
	Type     valueobjects.MessageType `json:"type"`
	Inbound  bool                     `json:"inbound"`
}

// NewMessageAppended creates a MessageAppended event
func NewMessageAppended(id valueobjects.ThreadID, msgType valueobjects.MessageType, inbound bool, timestamp time.Time) MessageAppended {
	return MessageAppended{
		BaseEvent: newBase(id.String(), TypeMessageAppended, timestamp),
		ThreadID:  id,
		Type:      msgType,
		Inbound:   inbound,
	}
}

// CandidateGenerated is raised when the engine produced a reply candidate
type CandidateGenerated struct {
	BaseEvent
	ThreadID  valueobjects.ThreadID `json:"thread_id"`
	Uncertain bool                  `json:"uncertain"`
}

// NewCandidateGenerated creates a CandidateGenerated event
func NewCandidateGenerated(id valueobjects.ThreadID, uncertain bool, timestamp time.Time) CandidateGenerated {
	return CandidateGenerated{
		BaseEvent: newBase(id.String(), TypeCandidateGenerated, timestamp),
		ThreadID:  id,
		Uncertain: uncertain,
	}
}

// GenerationFailed is raised when the engine errored; the thread waits for review
type GenerationFailed struct {
	BaseEvent
	ThreadID valueobjects.ThreadID `json:"thread_id"`
	Reason   string                `json:"reason"`
}

// NewGenerationFailed creates a GenerationFailed event
func NewGenerationFailed(id valueobjects.ThreadID, reason string, timestamp time.Time) GenerationFailed {
	return GenerationFailed{
		BaseEvent: newBase(id.String(), TypeGenerationFailed, timestamp),
		ThreadID:  id,
		Reason:    reason,
	}
}

// DeliveryFailed is raised when an approved reply could not be delivered
type DeliveryFailed struct {
	BaseEvent
	ThreadID valueobjects.ThreadID `json:"thread_id"`
	PeerDID  valueobjects.DID      `json:"peer_did"`
	Reason   string                `json:"reason"`
}

// NewDeliveryFailed creates a DeliveryFailed event
func NewDeliveryFailed(id valueobjects.ThreadID, peer valueobjects.DID, reason string, timestamp time.Time) DeliveryFailed {
	return DeliveryFailed{
		BaseEvent: newBase(id.String(), TypeDeliveryFailed, timestamp),
		ThreadID:  id,
		PeerDID:   peer,
		Reason:    reason,
	}
}

// Essence Events

// CorrectionLogged is raised after a correction was appended to the log
type CorrectionLogged struct {
	BaseEvent
	ThreadID     valueobjects.ThreadID `json:"thread_id"`
	Domain       string                `json:"domain"`
	EditDistance int                   `json:"edit_distance"`
	Total        int                   `json:"total"`
}

// NewCorrectionLogged creates a CorrectionLogged event
func NewCorrectionLogged(id valueobjects.ThreadID, domain string, distance, total int, timestamp time.Time) CorrectionLogged {
	return CorrectionLogged{
		BaseEvent:    newBase(id.String(), TypeCorrectionLogged, timestamp),
		ThreadID:     id,
		Domain:       domain,
		EditDistance: distance,
		Total:        total,
	}
}

// PatternsUpdated is raised when background extraction stored new patterns
type PatternsUpdated struct {
	BaseEvent
	Added int    `json:"added"`
	Total int    `json:"total"`
	Error string `json:"error,omitempty"`
}

// NewPatternsUpdated creates a PatternsUpdated event
func NewPatternsUpdated(added, total int, errMsg string, timestamp time.Time) PatternsUpdated {
	return PatternsUpdated{
		BaseEvent: newBase("essence", TypePatternsUpdated, timestamp),
		Added:     added,
		Total:     total,
		Error:     errMsg,
	}
}

// MaturityChanged is raised when the recomputed maturity differs
type MaturityChanged struct {
	BaseEvent
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// NewMaturityChanged creates a MaturityChanged event
func NewMaturityChanged(score float64, label string, timestamp time.Time) MaturityChanged {
	return MaturityChanged{
		BaseEvent: newBase("essence", TypeMaturityChanged, timestamp),
		Score:     score,
		Label:     label,
	}
}

// Peer Events

// PeerUpdated is raised whenever a peer record changes
type PeerUpdated struct {
	BaseEvent
	PeerDID    valueobjects.DID `json:"peer_did"`
	TrustScore float64          `json:"trust_score"`
	Blocked    bool             `json:"blocked"`
}

// NewPeerUpdated creates a PeerUpdated event
func NewPeerUpdated(did valueobjects.DID, trust float64, blocked bool, timestamp time.Time) PeerUpdated {
	return PeerUpdated{
		BaseEvent:  newBase(did.String(), TypePeerUpdated, timestamp),
		PeerDID:    did,
		TrustScore: trust,
		Blocked:    blocked,
	}
}

// PeerRemoved is raised when the owner deletes a peer
type PeerRemoved struct {
	BaseEvent
	PeerDID valueobjects.DID `json:"peer_did"`
}

// NewPeerRemoved creates a PeerRemoved event
func NewPeerRemoved(did valueobjects.DID, timestamp time.Time) PeerRemoved {
	return PeerRemoved{
		BaseEvent: newBase(did.String(), TypePeerRemoved, timestamp),
		PeerDID:   did,
	}
}

// PeersDiscovered is raised when gossip introduced new peers
type PeersDiscovered struct {
	BaseEvent
	Source valueobjects.DID   `json:"source"`
	DIDs   []valueobjects.DID `json:"dids"`
}

// NewPeersDiscovered creates a PeersDiscovered event
func NewPeersDiscovered(source valueobjects.DID, dids []valueobjects.DID, timestamp time.Time) PeersDiscovered {
	return PeersDiscovered{
		BaseEvent: newBase(source.String(), TypePeersDiscovered, timestamp),
		Source:    source,
		DIDs:      dids,
	}
}

// Node Events

// MoodChanged is raised when the owner changes availability
type MoodChanged struct {
	BaseEvent
	Mood valueobjects.Mood `json:"mood"`
}

// NewMoodChanged creates a MoodChanged event
func NewMoodChanged(nodeDID string, mood valueobjects.Mood, timestamp time.Time) MoodChanged {
	return MoodChanged{
		BaseEvent: newBase(nodeDID, TypeMoodChanged, timestamp),
		Mood:      mood,
	}
}

// CapacityDenied is raised when an inbound message exceeded the budget
type CapacityDenied struct {
	BaseEvent
	PeerDID valueobjects.DID `json:"peer_did"`
	Reason  string           `json:"reason"`
}

// NewCapacityDenied creates a CapacityDenied event
func NewCapacityDenied(peer valueobjects.DID, reason string, timestamp time.Time) CapacityDenied {
	return CapacityDenied{
		BaseEvent: newBase(peer.String(), TypeCapacityDenied, timestamp),
		PeerDID:   peer,
		Reason:    reason,
	}
}

// BudgetRolledOver is raised when a new budget period starts
type BudgetRolledOver struct {
	BaseEvent
	PeriodStart time.Time `json:"period_start"`
	PrevUsed    int64     `json:"prev_used"`
}

// NewBudgetRolledOver creates a BudgetRolledOver event
func NewBudgetRolledOver(periodStart time.Time, prevUsed int64, timestamp time.Time) BudgetRolledOver {
	return BudgetRolledOver{
		BaseEvent:   newBase("budget", TypeBudgetRolledOver, timestamp),
		PeriodStart: periodStart,
		PrevUsed:    prevUsed,
	}
}

// HealthDegraded is raised when a store write failed
type HealthDegraded struct {
	BaseEvent
	Reason string `json:"reason"`
}

// NewHealthDegraded creates a HealthDegraded event
func NewHealthDegraded(nodeDID, reason string, timestamp time.Time) HealthDegraded {
	return HealthDegraded{
		BaseEvent: newBase(nodeDID, TypeHealthDegraded, timestamp),
		Reason:    reason,
	}
}

// Heartbeat carries a periodic state snapshot for connected interfaces
type Heartbeat struct {
	BaseEvent
	State interface{} `json:"state"`
}

// NewHeartbeat creates a Heartbeat event
func NewHeartbeat(nodeDID string, state interface{}, timestamp time.Time) Heartbeat {
	return Heartbeat{
		BaseEvent: newBase(nodeDID, TypeHeartbeat, timestamp),
		State:     state,
	}
}
