package node

import (
	"time"

	"esence/domain/core/valueobjects"
)

// Lifecycle status of the node
const (
	StatusStarting = "starting"
	StatusOnline   = "online"
	StatusStopped  = "stopped"
)

// BudgetView is the part of the capacity ledger shown to the owner
type BudgetView struct {
	UsedUnits    int64     `json:"used_units"`
	LimitUnits   int64     `json:"limit_units"`
	OwnerUnits   int64     `json:"owner_units"`
	CallsTotal   int64     `json:"calls_total"`
	AvailablePct float64   `json:"available_pct"`
	PeriodStart  time.Time `json:"period_start"`
}

// Health is raised when a write to the essence store failed
type Health struct {
	Degraded bool       `json:"degraded"`
	Reason   string     `json:"reason,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
}

// State is the node-wide view the transports render. It is only changed
// through the transition methods below.
type State struct {
	Status        string            `json:"status"`
	DID           string            `json:"did"`
	NodeName      string            `json:"node_name"`
	Domain        string            `json:"domain"`
	Mood          valueobjects.Mood `json:"mood"`
	AutoApprove   bool              `json:"auto_approve"`
	PendingCount  int               `json:"pending_count"`
	PeerCount     int               `json:"peer_count"`
	Maturity      float64           `json:"maturity"`
	MaturityLabel string            `json:"maturity_label"`
	PatternsCount int               `json:"patterns_count"`
	Budget        BudgetView        `json:"budget"`
	Health        Health            `json:"health"`
	StartedAt     time.Time         `json:"started_at"`
}

// counters are the values refreshed from the components on every snapshot
type counters struct {
	pending  int
	peers    int
	maturity float64
	label    string
	patterns int
	budget   BudgetView
}

func (s *State) online(now time.Time) {
	s.Status = StatusOnline
	s.StartedAt = now
}

func (s *State) stop() {
	s.Status = StatusStopped
}

func (s *State) identify(did valueobjects.DID, name string) {
	s.DID = did.String()
	s.NodeName = name
	s.Domain = did.Domain()
}

func (s *State) setMood(m valueobjects.Mood) {
	s.Mood = m
}

func (s *State) setAutoApprove(on bool) {
	s.AutoApprove = on
}

// degrade reports whether health changed
func (s *State) degrade(reason string, now time.Time) bool {
	if s.Health.Degraded {
		return false
	}
	s.Health = Health{Degraded: true, Reason: reason, Since: &now}
	return true
}

func (s *State) observe(c counters) {
	s.PendingCount = c.pending
	s.PeerCount = c.peers
	s.Maturity = c.maturity
	s.MaturityLabel = c.label
	s.PatternsCount = c.patterns
	s.Budget = c.budget
}

// snapshot copies the state so callers never share the health timestamp
func (s State) snapshot() State {
	out := s
	if s.Health.Since != nil {
		since := *s.Health.Since
		out.Health.Since = &since
	}
	return out
}
