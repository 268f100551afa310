package services

import "math"

// MaturityInputs are the only facts maturity may depend on, so the score can
// always be recomputed from corrections.log and patterns.json.
type MaturityInputs struct {
	Corrections int `json:"corrections"`
	Patterns    int `json:"patterns"`
}

// MaturityStrategy turns learning counts into a score in [0,1]. Implementations
// must be monotonic non-decreasing in both counts.
type MaturityStrategy interface {
	Score(in MaturityInputs) float64
}

// MaturityFunc adapts a function to MaturityStrategy
type MaturityFunc func(in MaturityInputs) float64

// Score calls f
func (f MaturityFunc) Score(in MaturityInputs) float64 { return f(in) }

// SigmoidMaturity weights two logistic curves, one per input, each centred
// on its midpoint.
type SigmoidMaturity struct {
	CorrectionWeight   float64
	CorrectionMidpoint float64
	PatternWeight      float64
	PatternMidpoint    float64
}

// DefaultMaturity returns the standard weighting
func DefaultMaturity() SigmoidMaturity {
	return SigmoidMaturity{
		CorrectionWeight:   0.55,
		CorrectionMidpoint: 50,
		PatternWeight:      0.45,
		PatternMidpoint:    20,
	}
}

// Score implements MaturityStrategy
func (s SigmoidMaturity) Score(in MaturityInputs) float64 {
	total := s.CorrectionWeight + s.PatternWeight
	if total <= 0 {
		return 0
	}
	score := (s.CorrectionWeight*sigmoid(float64(in.Corrections), s.CorrectionMidpoint) +
		s.PatternWeight*sigmoid(float64(in.Patterns), s.PatternMidpoint)) / total
	return math.Round(score*10000) / 10000
}

func sigmoid(v, midpoint float64) float64 {
	if midpoint <= 0 {
		return 1
	}
	return 1 / (1 + math.Exp(-(v-midpoint)/(midpoint/2)))
}

// MaturityLabel names the band a score falls in
func MaturityLabel(score float64) string {
	switch {
	case score < 0.2:
		return "nascent"
	case score < 0.4:
		return "emerging"
	case score < 0.6:
		return "developing"
	case score < 0.8:
		return "established"
	default:
		return "mature"
	}
}
