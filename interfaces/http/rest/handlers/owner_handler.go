package handlers

import (
	"net/http"

	"esence/application/commands"
	"esence/application/commands/bus"
	"esence/application/queries"
	querybus "esence/application/queries/bus"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// OwnerHandler handles node state, settings, chat and the owner context
type OwnerHandler struct {
	controlHandler
}

// NewOwnerHandler creates a new owner handler
func NewOwnerHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errs *apperrors.ErrorHandler,
	logger *zap.Logger,
) *OwnerHandler {
	return &OwnerHandler{newControlHandler(commandBus, queryBus, errs, logger)}
}

// MoodRequest sets the owner's availability
type MoodRequest struct {
	Mood string `json:"mood"`
}

// AutoApproveRequest toggles autonomous answering
type AutoApproveRequest struct {
	Enabled bool `json:"enabled"`
}

// ChatRequest is one message to the owner's agent
type ChatRequest struct {
	Message string `json:"message"`
}

// ContextRequest replaces the owner context
type ContextRequest struct {
	Context string `json:"context"`
}

// GetState handles GET /api/state
func (h *OwnerHandler) GetState(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetStateQuery{})
}

// GetIdentity handles GET /api/identity
func (h *OwnerHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetIdentityQuery{})
}

// SetMood handles POST /api/mood
func (h *OwnerHandler) SetMood(w http.ResponseWriter, r *http.Request) {
	var req MoodRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.send(w, r, commands.SetMoodCommand{Mood: req.Mood}, http.StatusOK)
}

// SetAutoApprove handles POST /api/auto-approve
func (h *OwnerHandler) SetAutoApprove(w http.ResponseWriter, r *http.Request) {
	var req AutoApproveRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.send(w, r, commands.SetAutoApproveCommand{Enabled: req.Enabled}, http.StatusOK)
}

// Chat handles POST /api/chat
func (h *OwnerHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.send(w, r, commands.ChatCommand{Message: req.Message}, http.StatusOK)
}

// ChatHistory handles GET /api/chat
func (h *OwnerHandler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetChatHistoryQuery{})
}

// GetContext handles GET /api/context
func (h *OwnerHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetContextQuery{})
}

// PutContext handles PUT /api/context
func (h *OwnerHandler) PutContext(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.send(w, r, commands.WriteContextCommand{Context: req.Context}, http.StatusOK)
}
