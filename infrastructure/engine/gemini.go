package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"esence/application/ports"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the slice of *genai.Models the engine uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiEngine generates replies with Google's Gemini API
type GeminiEngine struct {
	models   contentGenerator
	model    string
	maxUnits int
	logger   *zap.Logger
}

// NewGeminiEngine creates a Gemini-backed engine
func NewGeminiEngine(ctx context.Context, apiKey, model string, maxUnits int, logger *zap.Logger) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiEngine(client.Models, model, maxUnits, logger), nil
}

func newGeminiEngine(models contentGenerator, model string, maxUnits int, logger *zap.Logger) *GeminiEngine {
	if model == "" {
		model = defaultGeminiModel
	}
	if maxUnits <= 0 {
		maxUnits = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiEngine{models: models, model: model, maxUnits: maxUnits, logger: logger.Named("gemini")}
}

// Generate implements ports.EssenceEngine
func (e *GeminiEngine) Generate(ctx context.Context, req ports.GenerationRequest) (ports.Generation, error) {
	return e.complete(ctx, SystemPrompt(req.Essence, ThreadInstruction(req)), ThreadTurns(req), e.maxUnits)
}

// Chat implements ports.EssenceEngine
func (e *GeminiEngine) Chat(ctx context.Context, req ports.ChatRequest) (ports.Generation, error) {
	return e.complete(ctx, SystemPrompt(req.Essence, chatInstruction), ChatTurns(req), e.maxUnits)
}

// Complete implements ports.EssenceEngine
func (e *GeminiEngine) Complete(ctx context.Context, system, prompt string, maxUnits int) (ports.Generation, error) {
	return e.complete(ctx, system, []ports.ChatTurn{{Role: RoleUser, Content: prompt}}, maxUnits)
}

func (e *GeminiEngine) complete(ctx context.Context, system string, turns []ports.ChatTurn, maxUnits int) (ports.Generation, error) {
	if len(turns) == 0 {
		return ports.Generation{}, errors.New("nothing to send to the model")
	}
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}

	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxUnits)}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, cfg)
	if err != nil {
		return ports.Generation{}, fmt.Errorf("GenAI generate failed: %w", err)
	}

	out := ports.Generation{Content: strings.TrimSpace(resp.Text())}
	if resp.UsageMetadata != nil {
		out.InputUnits = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputUnits = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	e.logger.Debug("completion finished",
		zap.String("model", e.model),
		zap.Int64("input_tokens", out.InputUnits),
		zap.Int64("output_tokens", out.OutputUnits),
	)
	return out, nil
}

var _ ports.EssenceEngine = (*GeminiEngine)(nil)
