package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"esence/application/ports"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicConfig configures the Messages API client
type AnthropicConfig struct {
	APIKey string
	// BaseURL overrides the API host, the SDK default when empty
	BaseURL  string
	Model    string
	MaxUnits int
	Timeout  time.Duration
	// MaxRetries bounds the SDK's retries of 408, 409, 429 and 5xx answers
	MaxRetries int
}

// messageCreator is the slice of anthropic.MessageService the engine uses
type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicEngine generates replies with the Anthropic Messages API
type AnthropicEngine struct {
	messages messageCreator
	model    string
	maxUnits int
	logger   *zap.Logger
}

// NewAnthropicEngine creates the engine. A nil client gets the SDK default
// transport.
func NewAnthropicEngine(cfg AnthropicConfig, client *http.Client, logger *zap.Logger) (*AnthropicEngine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	sdk := anthropic.NewClient(opts...)
	return newAnthropicEngine(&sdk.Messages, cfg.Model, cfg.MaxUnits, logger), nil
}

func newAnthropicEngine(messages messageCreator, model string, maxUnits int, logger *zap.Logger) *AnthropicEngine {
	if model == "" {
		model = defaultAnthropicModel
	}
	if maxUnits <= 0 {
		maxUnits = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicEngine{messages: messages, model: model, maxUnits: maxUnits, logger: logger.Named("anthropic")}
}

// Generate implements ports.EssenceEngine
func (e *AnthropicEngine) Generate(ctx context.Context, req ports.GenerationRequest) (ports.Generation, error) {
	return e.complete(ctx, SystemPrompt(req.Essence, ThreadInstruction(req)), ThreadTurns(req), e.maxUnits)
}

// Chat implements ports.EssenceEngine
func (e *AnthropicEngine) Chat(ctx context.Context, req ports.ChatRequest) (ports.Generation, error) {
	return e.complete(ctx, SystemPrompt(req.Essence, chatInstruction), ChatTurns(req), e.maxUnits)
}

// Complete implements ports.EssenceEngine
func (e *AnthropicEngine) Complete(ctx context.Context, system, prompt string, maxUnits int) (ports.Generation, error) {
	return e.complete(ctx, system, []ports.ChatTurn{{Role: RoleUser, Content: prompt}}, maxUnits)
}

func (e *AnthropicEngine) complete(ctx context.Context, system string, turns []ports.ChatTurn, maxUnits int) (ports.Generation, error) {
	if len(turns) == 0 {
		return ports.Generation{}, errors.New("nothing to send to the model")
	}
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: int64(maxUnits),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	started := time.Now()
	resp, err := e.messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return ports.Generation{}, fmt.Errorf("anthropic returned status %d: %w", apiErr.StatusCode, err)
		}
		return ports.Generation{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := ports.Generation{
		Content:     strings.TrimSpace(text.String()),
		InputUnits:  resp.Usage.InputTokens,
		OutputUnits: resp.Usage.OutputTokens,
	}
	e.logger.Debug("completion finished",
		zap.String("model", e.model),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int64("input_tokens", out.InputUnits),
		zap.Int64("output_tokens", out.OutputUnits),
	)
	return out, nil
}

var _ ports.EssenceEngine = (*AnthropicEngine)(nil)
