package handlers

import (
	"net/http"
	"strconv"

	"esence/application/commands"
	"esence/application/commands/bus"
	"esence/application/queries"
	querybus "esence/application/queries/bus"

	apperrors "esence/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ThreadHandler handles the review queue endpoints
type ThreadHandler struct {
	controlHandler
}

// NewThreadHandler creates a new thread handler
func NewThreadHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errs *apperrors.ErrorHandler,
	logger *zap.Logger,
) *ThreadHandler {
	return &ThreadHandler{newControlHandler(commandBus, queryBus, errs, logger)}
}

// ApproveRequest is the optional body of an approval
type ApproveRequest struct {
	EditedReply string `json:"edited_reply,omitempty"`
}

// SendRequest opens a thread with a peer
type SendRequest struct {
	To      string `json:"to_did"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content"`
}

// ListPending handles GET /api/pending
func (h *ThreadHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.ListPendingQuery{})
}

// ListThreads handles GET /api/threads?status=&peer=&limit=
func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	q := queries.ListThreadsQuery{
		Status: r.URL.Query().Get("status"),
		Peer:   r.URL.Query().Get("peer"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.errors.Handle(w, r, apperrors.NewValidationError("limit must be a number"))
			return
		}
		q.Limit = limit
	}
	h.ask(w, r, q)
}

// GetThread handles GET /api/threads/{threadID}
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetThreadQuery{ThreadID: chi.URLParam(r, "threadID")})
}

// Approve handles POST /api/threads/{threadID}/approve. The response is sent
// once the reply was delivered or delivery failed.
func (h *ThreadHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	h.send(w, r, commands.ApproveThreadCommand{
		ThreadID:    chi.URLParam(r, "threadID"),
		EditedReply: req.EditedReply,
	}, http.StatusOK)
}

// Reject handles POST /api/threads/{threadID}/reject
func (h *ThreadHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, commands.RejectThreadCommand{ThreadID: chi.URLParam(r, "threadID")}, http.StatusOK)
}

// Send handles POST /api/send
func (h *ThreadHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.send(w, r, commands.SendMessageCommand{
		To:      req.To,
		Subject: req.Subject,
		Content: req.Content,
	}, http.StatusCreated)
}
