package handlers

import (
	"context"
	"errors"
	"net/http"

	"esence/application/node"
	"esence/domain/core/entities"
	"esence/pkg/common"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// maxMessageBody bounds one inbound wire message
const maxMessageBody = 256 << 10

// Receiver is the peer-facing side of the node
type Receiver interface {
	Receive(ctx context.Context, msg entities.Message) (node.Receipt, error)
	Document() entities.IdentityDocument
}

// ANPResponse is the wire answer to POST /anp/message. Refusals carry no
// reason so a sender cannot probe the owner's policy.
type ANPResponse struct {
	Status     string   `json:"status"`
	ThreadID   string   `json:"thread_id,omitempty"`
	KnownPeers []string `json:"known_peers,omitempty"`
}

// ANPHandler serves the peer protocol endpoints
type ANPHandler struct {
	receiver Receiver
	errors   *apperrors.ErrorHandler
	logger   *zap.Logger
}

// NewANPHandler creates a new protocol handler
func NewANPHandler(receiver Receiver, errs *apperrors.ErrorHandler, logger *zap.Logger) *ANPHandler {
	return &ANPHandler{receiver: receiver, errors: errs, logger: logger}
}

// ReceiveMessage handles POST /anp/message
func (h *ANPHandler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	data, err := common.ReadBody(w, r, maxMessageBody)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errors.HandleStatus(w, r, http.StatusRequestEntityTooLarge, "message too large")
			return
		}
		h.errors.Handle(w, r, apperrors.NewValidationError("failed to read message"))
		return
	}

	msg, err := entities.ParseMessage(data)
	if err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	receipt, err := h.receiver.Receive(r.Context(), msg)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	switch receipt.Verdict {
	case node.VerdictRejected:
		common.RespondRaw(w, http.StatusForbidden, ANPResponse{Status: "rejected"})
	case node.VerdictDropped:
		common.RespondRaw(w, http.StatusAccepted, ANPResponse{Status: "received"})
	default:
		resp := ANPResponse{Status: "received", KnownPeers: receipt.KnownPeers}
		if !receipt.ThreadID.IsZero() {
			resp.ThreadID = receipt.ThreadID.String()
		}
		common.RespondRaw(w, http.StatusAccepted, resp)
	}
}

// Document handles GET /.well-known/did.json
func (h *ANPHandler) Document(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=60")
	common.RespondRaw(w, http.StatusOK, h.receiver.Document())
}
