package engine

import (
	"context"
	"strings"

	"esence/application/ports"
)

// StaticEngine answers with a fixed reply. It lets a node run without a
// provider key, every thread then relies on the owner's edits.
type StaticEngine struct {
	Reply string
}

// Generate implements ports.EssenceEngine
func (e StaticEngine) Generate(ctx context.Context, req ports.GenerationRequest) (ports.Generation, error) {
	if err := ctx.Err(); err != nil {
		return ports.Generation{}, err
	}
	return e.reply(), nil
}

// Chat implements ports.EssenceEngine
func (e StaticEngine) Chat(ctx context.Context, req ports.ChatRequest) (ports.Generation, error) {
	if err := ctx.Err(); err != nil {
		return ports.Generation{}, err
	}
	return e.reply(), nil
}

// Complete returns an empty pattern list so extraction succeeds with no
// new patterns.
func (e StaticEngine) Complete(ctx context.Context, system, prompt string, maxUnits int) (ports.Generation, error) {
	if err := ctx.Err(); err != nil {
		return ports.Generation{}, err
	}
	return ports.Generation{Content: "[]"}, nil
}

func (e StaticEngine) reply() ports.Generation {
	text := strings.TrimSpace(e.Reply)
	if text == "" {
		text = "Thanks for your message. I will get back to you soon."
	}
	return ports.Generation{Content: text}
}

var _ ports.EssenceEngine = StaticEngine{}
