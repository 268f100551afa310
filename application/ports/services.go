package ports

import (
	"context"

	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"
)

// Essence is the owner-specific material an engine personalizes replies with
type Essence struct {
	NodeName string
	NodeDID  string
	Context  string
	Patterns []entities.Pattern
	Maturity float64
}

// GenerationRequest asks for a reply on a thread
type GenerationRequest struct {
	ThreadID valueobjects.ThreadID
	Peer     string
	Domain   string
	Subject  string
	History  []entities.Message
	Essence  Essence
}

// Chat roles, shared by every engine
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one exchange of the owner talking to their own agent
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an owner chat message
type ChatRequest struct {
	Content string
	History []ChatTurn
	Essence Essence
}

// Generation is an engine result. Units are the provider's own accounting
// (tokens for LLM providers) and feed the capacity ledger.
type Generation struct {
	Content     string
	InputUnits  int64
	OutputUnits int64
	// Uncertain is set by engines that can tell they are guessing
	Uncertain bool
}

// Units is the total cost of the generation
func (g Generation) Units() int64 {
	return g.InputUnits + g.OutputUnits
}

// EssenceEngine produces candidate replies. Implementations must honour ctx
// cancellation, the queue abandons calls for rejected threads.
type EssenceEngine interface {
	Generate(ctx context.Context, req GenerationRequest) (Generation, error)
	Chat(ctx context.Context, req ChatRequest) (Generation, error)
	// Complete runs a raw prompt, used for pattern extraction
	Complete(ctx context.Context, system, prompt string, maxUnits int) (Generation, error)
}

// Resolver maps a DID to its published identity document
type Resolver interface {
	Resolve(ctx context.Context, did valueobjects.DID) (entities.IdentityDocument, error)
	// Invalidate drops a cached document, e.g. after a key mismatch
	Invalidate(did valueobjects.DID)
}

// Delivery is the peer's answer to a posted message
type Delivery struct {
	StatusCode int
	Body       []byte
}

// Sender posts signed messages to peers
type Sender interface {
	Send(ctx context.Context, endpoint string, msg entities.Message) (Delivery, error)
}

// MessageSigner signs outbound and verifies inbound wire messages
type MessageSigner interface {
	DID() valueobjects.DID
	PublicKey() string
	SignMessage(msg entities.Message) (entities.Message, error)
	VerifyMessage(ctx context.Context, msg entities.Message) error
}

// EventPublisher fans domain events out to subscribers
type EventPublisher interface {
	Publish(evts ...events.DomainEvent)
}
