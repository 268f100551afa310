package entities

import (
	"sort"
	"time"

	"esence/domain/core/valueobjects"
)

// Interaction classifies an exchange with a peer for trust accounting
type Interaction string

const (
	InteractionSuccess Interaction = "success"
	InteractionFailure Interaction = "failure"
	// InteractionNeutral updates bookkeeping without moving trust, for
	// policy outcomes such as capacity denials.
	InteractionNeutral Interaction = "neutral"
)

// Peer is a known remote node
type Peer struct {
	DID             valueobjects.DID `json:"did"`
	TrustScore      float64          `json:"trust_score"`
	LastInteraction *time.Time       `json:"last_interaction,omitempty"`
	ThreadCount     int              `json:"thread_count"`
	Blocked         bool             `json:"blocked"`
	Alias           string           `json:"alias,omitempty"`
	AddedAt         time.Time        `json:"added_at"`
	Source          string           `json:"source,omitempty"`
	AvailablePct    *float64         `json:"available_pct,omitempty"`
}

// NewPeer creates a peer record with the given starting trust
func NewPeer(did valueobjects.DID, trust float64, source string, now time.Time) Peer {
	return Peer{
		DID:        did,
		TrustScore: ClampTrust(trust),
		AddedAt:    now,
		Source:     source,
	}
}

// ClampTrust bounds a trust score to [0,1]
func ClampTrust(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Record applies one interaction. Steps are bounded so any single exchange
// moves trust by at most max(success, failure).
func (p *Peer) Record(outcome Interaction, successStep, failureStep float64, now time.Time) {
	switch outcome {
	case InteractionSuccess:
		p.TrustScore = ClampTrust(p.TrustScore + successStep)
	case InteractionFailure:
		p.TrustScore = ClampTrust(p.TrustScore - failureStep)
	}
	t := now
	p.LastInteraction = &t
}

// DisplayName prefers the owner's alias
func (p Peer) DisplayName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.DID.Handle()
}

// SortByTrust orders peers by descending trust, then DID for stability
func SortByTrust(peers []Peer) {
	sort.SliceStable(peers, func(i, j int) bool {
		if peers[i].TrustScore != peers[j].TrustScore {
			return peers[i].TrustScore > peers[j].TrustScore
		}
		return peers[i].DID.String() < peers[j].DID.String()
	})
}
