package services

import (
	"fmt"
	"strings"

	"esence/domain/config"
	"esence/domain/core/valueobjects"
)

// Route is the decision taken for a new inbound thread
type Route string

const (
	RouteReview     Route = "review"
	RouteAutonomous Route = "autonomous"
	RouteReject     Route = "reject"
)

// RuleMode is what an owner rule asks for in its domain
type RuleMode string

const (
	ModeReview     RuleMode = "review"
	ModeAutonomous RuleMode = "autonomous"
)

// DomainRule is an owner-configured autonomy rule for one topic
type DomainRule struct {
	Domain   string   `yaml:"domain" json:"domain" validate:"required"`
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
	Mode     RuleMode `yaml:"mode" json:"mode" validate:"required,oneof=review autonomous"`
}

// RoutingInput carries everything the policy looks at
type RoutingInput struct {
	Domain      string
	Mood        valueobjects.Mood
	AutoApprove bool
	KnownPeer   bool
	Blocked     bool
	PeerTrust   float64
	Maturity    float64
}

// Decision explains a route
type Decision struct {
	Route   Route
	Outcome valueobjects.Outcome
	Reason  string
}

// AutonomyPolicy decides whether a new thread is reviewed, answered
// autonomously, or refused. Rules are keyed by domain, lowercased.
type AutonomyPolicy struct {
	cfg   *config.DomainConfig
	rules map[string]DomainRule
}

// NewAutonomyPolicy creates a policy with an initial rule set
func NewAutonomyPolicy(cfg *config.DomainConfig, rules []DomainRule) (*AutonomyPolicy, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	p := &AutonomyPolicy{cfg: cfg}
	if err := p.SetRules(rules); err != nil {
		return nil, err
	}
	return p, nil
}

// SetRules replaces the rule set. Callers serialize access.
func (p *AutonomyPolicy) SetRules(rules []DomainRule) error {
	next := make(map[string]DomainRule, len(rules))
	for _, r := range rules {
		key := strings.ToLower(strings.TrimSpace(r.Domain))
		if key == "" {
			return fmt.Errorf("autonomy rule without domain")
		}
		if r.Mode != ModeReview && r.Mode != ModeAutonomous {
			return fmt.Errorf("autonomy rule %q: unknown mode %q", r.Domain, r.Mode)
		}
		r.Domain = key
		next[key] = r
	}
	p.rules = next
	return nil
}

// Rules returns the current rules
func (p *AutonomyPolicy) Rules() []DomainRule {
	out := make([]DomainRule, 0, len(p.rules))
	for _, r := range p.rules {
		out = append(out, r)
	}
	return out
}

// Decide applies, in order: blocked peers, do-not-disturb, the domain rule,
// the global auto-approve toggle, then mood with trust and maturity.
func (p *AutonomyPolicy) Decide(in RoutingInput) Decision {
	if in.Blocked {
		return Decision{Route: RouteReject, Outcome: valueobjects.OutcomeBlocked, Reason: "peer is blocked"}
	}
	if in.Mood == valueobjects.MoodDND {
		return Decision{Route: RouteReject, Outcome: valueobjects.OutcomeDoNotDisturb, Reason: "do not disturb"}
	}

	if rule, ok := p.rules[strings.ToLower(in.Domain)]; ok {
		if rule.Mode == ModeAutonomous {
			return Decision{Route: RouteAutonomous, Reason: "domain rule " + rule.Domain}
		}
		return Decision{Route: RouteReview, Reason: "domain rule " + rule.Domain}
	}

	if in.AutoApprove {
		return Decision{Route: RouteAutonomous, Reason: "auto-approve enabled"}
	}

	// Unknown senders carry no trust for routing purposes
	trust := in.PeerTrust
	if !in.KnownPeer {
		trust = 0
	}

	switch in.Mood {
	case valueobjects.MoodAvailable:
		if trust >= p.cfg.AvailableMinTrust {
			return Decision{Route: RouteAutonomous, Reason: "available and trusted"}
		}
	case valueobjects.MoodModerate:
		if in.Maturity >= p.cfg.AutonomyThreshold && trust >= p.cfg.ModerateMinTrust {
			return Decision{Route: RouteAutonomous, Reason: "mature and trusted"}
		}
	}
	return Decision{Route: RouteReview, Reason: "owner review"}
}
