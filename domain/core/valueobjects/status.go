package valueobjects

import "fmt"

// ThreadStatus is the review state of a thread
type ThreadStatus string

const (
	StatusPendingReview ThreadStatus = "pending_human_review"
	StatusApproved      ThreadStatus = "approved"
	StatusAutoApproved  ThreadStatus = "auto_approved"
	StatusSent          ThreadStatus = "sent"
	StatusAnswered      ThreadStatus = "answered"
	StatusRejected      ThreadStatus = "rejected"
)

var transitions = map[ThreadStatus][]ThreadStatus{
	StatusPendingReview: {StatusApproved, StatusAutoApproved, StatusRejected},
	StatusApproved:      {StatusSent},
	StatusAutoApproved:  {StatusSent},
	StatusSent:          {StatusAnswered},
}

// ParseThreadStatus validates a status string
func ParseThreadStatus(s string) (ThreadStatus, error) {
	st := ThreadStatus(s)
	switch st {
	case StatusPendingReview, StatusApproved, StatusAutoApproved, StatusSent, StatusAnswered, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown thread status %q", s)
}

// CanTransitionTo reports whether target is reachable in one step
func (s ThreadStatus) CanTransitionTo(target ThreadStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no owner action can move the thread further.
// sent still accepts an inbound reply, which moves it to answered.
func (s ThreadStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusAnswered || s == StatusRejected
}

// IsApproved covers both approval paths
func (s ThreadStatus) IsApproved() bool {
	return s == StatusApproved || s == StatusAutoApproved
}

// WireStatus maps internal statuses onto the set allowed on the wire
func (s ThreadStatus) WireStatus() ThreadStatus {
	if s == StatusAutoApproved {
		return StatusApproved
	}
	return s
}

// MessageType discriminates the wire message union
type MessageType string

const (
	TypeThreadMessage  MessageType = "thread_message"
	TypeThreadReply    MessageType = "thread_reply"
	TypePeerIntro      MessageType = "peer_intro"
	TypeCapacityStatus MessageType = "capacity_status"
)

// ParseMessageType validates a message type string
func ParseMessageType(s string) (MessageType, error) {
	mt := MessageType(s)
	switch mt {
	case TypeThreadMessage, TypeThreadReply, TypePeerIntro, TypeCapacityStatus:
		return mt, nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// IsConversational reports whether the type belongs to a thread
func (t MessageType) IsConversational() bool {
	return t == TypeThreadMessage || t == TypeThreadReply
}

// Mood is the owner's availability, which drives routing of new threads
type Mood string

const (
	MoodAvailable Mood = "available"
	MoodModerate  Mood = "moderate"
	MoodAbsent    Mood = "absent"
	MoodDND       Mood = "dnd"
)

// ParseMood validates a mood string
func ParseMood(s string) (Mood, error) {
	m := Mood(s)
	switch m {
	case MoodAvailable, MoodModerate, MoodAbsent, MoodDND:
		return m, nil
	}
	return "", fmt.Errorf("unknown mood %q", s)
}

// Outcome annotates why a thread ended up where it is
type Outcome string

const (
	OutcomeNone             Outcome = ""
	OutcomeCapacityRejected Outcome = "capacity_rejected"
	OutcomeBlocked          Outcome = "blocked"
	OutcomeDoNotDisturb     Outcome = "dnd"
	OutcomeUndeliverable    Outcome = "undeliverable"
	OutcomeGenerationFailed Outcome = "generation_failed"
	OutcomeUncertain        Outcome = "uncertain"
	OutcomeRejectedByOwner  Outcome = "rejected_by_owner"
)
