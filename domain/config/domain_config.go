package config

import (
	"errors"
	"time"
)

// DomainConfig holds the business rules of trust, autonomy and learning
type DomainConfig struct {
	// Trust
	DefaultTrust     float64
	BootstrapTrust   float64
	GossipTrust      float64
	TrustSuccessStep float64
	TrustFailureStep float64

	// Gossip
	GossipMinTrust float64
	GossipMaxPeers int

	// Autonomy routing
	AvailableMinTrust float64
	ModerateMinTrust  float64
	AutonomyThreshold float64
	DefaultTopic      string

	// Learning
	CorrectionsPerExtraction int
	ExtractionWindow         int
	DefaultPatternConfidence float64

	// Protocol
	MaxMessageAge  time.Duration
	MaxContentSize int
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		DefaultTrust:     0.5,
		BootstrapTrust:   0.3,
		GossipTrust:      0.2,
		TrustSuccessStep: 0.02,
		TrustFailureStep: 0.05,

		GossipMinTrust: 0.4,
		GossipMaxPeers: 20,

		AvailableMinTrust: 0.3,
		ModerateMinTrust:  0.5,
		AutonomyThreshold: 0.6,
		DefaultTopic:      "general",

		CorrectionsPerExtraction: 5,
		ExtractionWindow:         20,
		DefaultPatternConfidence: 0.5,

		MaxMessageAge:  300 * time.Second,
		MaxContentSize: 64 * 1024,
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	for _, v := range []float64{c.DefaultTrust, c.BootstrapTrust, c.GossipTrust, c.GossipMinTrust, c.AvailableMinTrust, c.ModerateMinTrust, c.AutonomyThreshold} {
		if v < 0 || v > 1 {
			return errors.New("trust and threshold values must be within [0,1]")
		}
	}
	if c.CorrectionsPerExtraction <= 0 {
		return errors.New("corrections per extraction must be positive")
	}
	if c.GossipMaxPeers <= 0 {
		return errors.New("gossip max peers must be positive")
	}
	return nil
}
