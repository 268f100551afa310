package engine

import (
	"context"
	"fmt"

	"esence/application/ports"
	"esence/infrastructure/config"

	"go.uber.org/zap"
)

// New builds the engine selected by cfg.Provider
func New(ctx context.Context, cfg config.EngineConfig, logger *zap.Logger) (ports.EssenceEngine, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicEngine(AnthropicConfig{
			APIKey:     cfg.AnthropicKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxUnits:   cfg.MaxUnits,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, nil, logger)
	case config.ProviderGemini:
		return NewGeminiEngine(ctx, cfg.GeminiKey, cfg.Model, cfg.MaxUnits, logger)
	case config.ProviderStatic:
		return StaticEngine{Reply: cfg.StaticReply}, nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
