// Package engine adapts LLM providers to ports.EssenceEngine.
package engine

import (
	"fmt"
	"strings"

	"esence/application/ports"
	"esence/domain/services"
)

// Conversation roles
const (
	RoleUser      = ports.RoleUser
	RoleAssistant = ports.RoleAssistant
)

const systemTemplate = `You are the digital agent of %[1]s on the Esence network.

## Identity
DID: %[2]s
Node name: %[1]s
Essence maturity: %.2[3]f (%[4]s)

## Essence
%[5]s

## Known reasoning patterns
%[6]s

## Principles
- You represent %[1]s, not any company.
- You answer in the first person as the agent of %[1]s.
- Before committing to anything important you check with %[1]s.
- You are asynchronous: take your time, prefer thoughtful answers.
- You never make up facts about %[1]s. If you do not know, say so.
- Everything you send carries your Ed25519 signature.
%[7]s`

const (
	noContext  = "(no context yet)"
	noPatterns = "(no patterns yet, the agent is still learning)"

	chatInstruction = "The owner is talking to you directly. You may be more reflective and personal, and ask questions to get to know them better."
	threadIntro     = "(conversation opened by you)"
)

// SystemPrompt renders the essence into a system prompt. instruction is
// appended as the current task when non-empty.
func SystemPrompt(e ports.Essence, instruction string) string {
	name := e.NodeName
	if name == "" {
		name = "the owner"
	}

	context := strings.TrimSpace(e.Context)
	if context == "" {
		context = noContext
	}

	patterns := noPatterns
	if len(e.Patterns) > 0 {
		lines := make([]string, 0, len(e.Patterns))
		for _, p := range e.Patterns {
			lines = append(lines, "- "+p.Description)
		}
		patterns = strings.Join(lines, "\n")
	}

	task := ""
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		task = "\n## Current instruction\n" + instruction + "\n"
	}

	return fmt.Sprintf(systemTemplate, name, e.NodeDID, e.Maturity, services.MaturityLabel(e.Maturity), context, patterns, task)
}

// ThreadInstruction frames a reply on a thread
func ThreadInstruction(req ports.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the next reply to %s in this thread.", req.Peer)
	if req.Subject != "" {
		fmt.Fprintf(&b, " Subject: %q.", req.Subject)
	}
	if req.Domain != "" {
		fmt.Fprintf(&b, " Topic: %s.", req.Domain)
	}
	b.WriteString(" Reply with the message text only.")
	return b.String()
}

// ThreadTurns maps the thread history onto alternating conversation turns:
// messages from the peer are user turns, ours are assistant turns.
// Consecutive messages from the same side are merged and the conversation
// always opens with a user turn.
func ThreadTurns(req ports.GenerationRequest) []ports.ChatTurn {
	turns := make([]ports.ChatTurn, 0, len(req.History)+1)
	for _, m := range req.History {
		role := RoleAssistant
		if m.From.String() == req.Peer {
			role = RoleUser
		}
		turns = appendTurn(turns, role, m.Content)
	}
	if len(turns) > 0 && turns[0].Role == RoleAssistant {
		turns = append([]ports.ChatTurn{{Role: RoleUser, Content: threadIntro}}, turns...)
	}
	return turns
}

// ChatTurns appends the owner's message to the chat history
func ChatTurns(req ports.ChatRequest) []ports.ChatTurn {
	turns := make([]ports.ChatTurn, 0, len(req.History)+1)
	for _, t := range req.History {
		role := RoleUser
		if t.Role == RoleAssistant {
			role = RoleAssistant
		}
		turns = appendTurn(turns, role, t.Content)
	}
	turns = appendTurn(turns, RoleUser, req.Content)
	if len(turns) > 0 && turns[0].Role == RoleAssistant {
		turns = turns[1:]
	}
	return turns
}

func appendTurn(turns []ports.ChatTurn, role, content string) []ports.ChatTurn {
	if strings.TrimSpace(content) == "" {
		return turns
	}
	if n := len(turns); n > 0 && turns[n-1].Role == role {
		turns[n-1].Content += "\n\n" + content
		return turns
	}
	return append(turns, ports.ChatTurn{Role: role, Content: content})
}
