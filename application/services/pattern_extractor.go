package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"esence/application/ports"
	"esence/domain/core/entities"
)

const extractionSystemPrompt = "You analyse how the owner of a personal agent edits its draft replies. " +
	"Answer with JSON only."

const extractionPrompt = `Below are corrections the owner made to replies drafted by their agent.
Each has "original" (what the agent proposed) and "edited" (what the owner approved).

Corrections:
%s

Extract concrete reasoning patterns. A pattern captures ONE consistent way the owner
adjusts replies: preferred tone, level of detail, values they stress, topics they avoid.

Reply ONLY with a JSON array of objects with exactly this shape:
[
  {
    "description": "short description of the pattern (one sentence)",
    "examples": ["original -> edited", ...],
    "confidence": 0.0-1.0
  }
]

If there are no clear patterns, reply with [].
Do not add any explanation outside the JSON.`

const extractionMaxUnits = 1024

// ErrNoMeaningfulCorrections is returned when every correction in the window
// is unedited
var ErrNoMeaningfulCorrections = errors.New("no meaningful corrections to analyse")

// PatternExtractor distills corrections into patterns through the engine
type PatternExtractor struct {
	engine            ports.EssenceEngine
	defaultConfidence float64
	now               func() time.Time
}

// NewPatternExtractor creates an extractor
func NewPatternExtractor(engine ports.EssenceEngine, defaultConfidence float64, now func() time.Time) *PatternExtractor {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &PatternExtractor{engine: engine, defaultConfidence: defaultConfidence, now: now}
}

type correctionSample struct {
	Original string `json:"original"`
	Edited   string `json:"edited"`
}

type extractedPattern struct {
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
	Confidence  *float64 `json:"confidence"`
}

// Extract returns the patterns the engine finds in corrections. Corrections
// without a real edit are skipped.
func (e *PatternExtractor) Extract(ctx context.Context, corrections []entities.Correction) ([]entities.Pattern, error) {
	var samples []correctionSample
	for _, c := range corrections {
		if c.IsMeaningful() {
			samples = append(samples, correctionSample{Original: c.OriginalCandidate, Edited: c.FinalContent})
		}
	}
	if len(samples) == 0 {
		return nil, ErrNoMeaningfulCorrections
	}

	encoded, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode corrections: %w", err)
	}

	gen, err := e.engine.Complete(ctx, extractionSystemPrompt, fmt.Sprintf(extractionPrompt, encoded), extractionMaxUnits)
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}
	return e.parse(gen.Content)
}

func (e *PatternExtractor) parse(raw string) ([]entities.Pattern, error) {
	var items []extractedPattern
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &items); err != nil {
		return nil, fmt.Errorf("extraction reply is not a JSON array: %w", err)
	}

	now := e.now()
	seen := make(map[string]bool, len(items))
	out := make([]entities.Pattern, 0, len(items))
	for _, it := range items {
		p := entities.Pattern{
			Description: strings.TrimSpace(it.Description),
			Examples:    it.Examples,
			Confidence:  e.defaultConfidence,
			ExtractedAt: now,
		}
		if p.Key() == "" || seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		if it.Confidence != nil {
			p.Confidence = entities.ClampTrust(*it.Confidence)
		}
		if p.Examples == nil {
			p.Examples = []string{}
		}
		out = append(out, p)
	}
	return out, nil
}

// StripCodeFence removes a surrounding markdown code fence, if any
func StripCodeFence(s string) string {
	text := strings.TrimSpace(s)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
