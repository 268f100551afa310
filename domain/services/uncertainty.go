package services

import "strings"

// CandidateContext is what the uncertainty check can look at
type CandidateContext struct {
	Domain    string
	Inbound   string
	Candidate string
	Maturity  float64
}

// UncertaintyPredicate flags candidates that must go to the owner no matter
// how the thread was routed.
type UncertaintyPredicate func(c CandidateContext) bool

// NeverUncertain is the default predicate
func NeverUncertain(CandidateContext) bool { return false }

// MarkerUncertainty flags candidates containing any of the given markers,
// case-insensitively. Engines can emit a marker when they are unsure.
func MarkerUncertainty(markers ...string) UncertaintyPredicate {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	return func(c CandidateContext) bool {
		text := strings.ToLower(c.Candidate)
		for _, m := range lowered {
			if strings.Contains(text, m) {
				return true
			}
		}
		return false
	}
}
