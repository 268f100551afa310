package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"esence/application/commands"
	"esence/application/commands/bus"
	"esence/application/queries"
	querybus "esence/application/queries/bus"

	apperrors "esence/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PeerHandler handles the peer list endpoints
type PeerHandler struct {
	controlHandler
}

// NewPeerHandler creates a new peer handler
func NewPeerHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errs *apperrors.ErrorHandler,
	logger *zap.Logger,
) *PeerHandler {
	return &PeerHandler{newControlHandler(commandBus, queryBus, errs, logger)}
}

// AddPeerRequest registers a peer by DID
type AddPeerRequest struct {
	DID string `json:"did"`
}

// UpdatePeerRequest edits a peer; omitted fields are unchanged
type UpdatePeerRequest struct {
	Trust   *float64 `json:"trust_score,omitempty"`
	Alias   *string  `json:"alias,omitempty"`
	Blocked *bool    `json:"blocked,omitempty"`
}

// BlockPeerRequest sets the block flag. An empty body blocks.
type BlockPeerRequest struct {
	Blocked *bool `json:"blocked,omitempty"`
}

// ListPeers handles GET /api/peers?exclude_blocked=true
func (h *PeerHandler) ListPeers(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.ListPeersQuery{ExcludeBlocked: r.URL.Query().Get("exclude_blocked") == "true"})
}

// AddPeer handles POST /api/peers
func (h *PeerHandler) AddPeer(w http.ResponseWriter, r *http.Request) {
	var req AddPeerRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.send(w, r, commands.AddPeerCommand{DID: strings.TrimSpace(req.DID)}, http.StatusCreated)
}

// UpdatePeer handles PATCH /api/peers/{did}
func (h *PeerHandler) UpdatePeer(w http.ResponseWriter, r *http.Request) {
	var req UpdatePeerRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	h.send(w, r, commands.UpdatePeerCommand{
		DID:     peerParam(r),
		Trust:   req.Trust,
		Alias:   req.Alias,
		Blocked: req.Blocked,
	}, http.StatusOK)
}

// BlockPeer handles POST /api/peers/{did}/block
func (h *PeerHandler) BlockPeer(w http.ResponseWriter, r *http.Request) {
	var req BlockPeerRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	blocked := true
	if req.Blocked != nil {
		blocked = *req.Blocked
	}
	h.send(w, r, commands.BlockPeerCommand{DID: peerParam(r), Blocked: blocked}, http.StatusOK)
}

// RemovePeer handles DELETE /api/peers/{did}
func (h *PeerHandler) RemovePeer(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, commands.RemovePeerCommand{DID: peerParam(r)}, http.StatusOK)
}

// peerParam returns the DID path segment. DIDs carry their port as %3A, so
// the segment is used verbatim unless the client escaped the percent sign.
func peerParam(r *http.Request) string {
	raw := chi.URLParam(r, "did")
	if strings.Contains(raw, "%25") {
		if unescaped, err := url.PathUnescape(raw); err == nil {
			return unescaped
		}
	}
	return raw
}
