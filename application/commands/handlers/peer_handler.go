package handlers

import (
	"context"

	"esence/application/commands"
	"esence/application/services"

	"go.uber.org/zap"
)

// PeerHandler handles edits of the peer list
type PeerHandler struct {
	owner  Owner
	logger *zap.Logger
}

// NewPeerHandler creates a new peer handler
func NewPeerHandler(owner Owner, logger *zap.Logger) *PeerHandler {
	return &PeerHandler{owner: owner, logger: logger}
}

// Add resolves the peer's identity document before registering it
func (h *PeerHandler) Add(ctx context.Context, cmd commands.AddPeerCommand) (interface{}, error) {
	peer, err := h.owner.AddPeer(ctx, cmd.DID)
	if err != nil {
		return nil, err
	}
	h.logger.Info("peer added", zap.String("did", cmd.DID))
	return peer, nil
}

func (h *PeerHandler) Update(ctx context.Context, cmd commands.UpdatePeerCommand) (interface{}, error) {
	did, err := parseDID(cmd.DID)
	if err != nil {
		return nil, err
	}
	return h.owner.UpdatePeer(ctx, did, services.PeerUpdate{
		Trust:   cmd.Trust,
		Alias:   cmd.Alias,
		Blocked: cmd.Blocked,
	})
}

func (h *PeerHandler) Block(ctx context.Context, cmd commands.BlockPeerCommand) (interface{}, error) {
	did, err := parseDID(cmd.DID)
	if err != nil {
		return nil, err
	}
	peer, err := h.owner.BlockPeer(ctx, did, cmd.Blocked)
	if err != nil {
		return nil, err
	}
	h.logger.Info("peer block flag changed", zap.String("did", cmd.DID), zap.Bool("blocked", cmd.Blocked))
	return peer, nil
}

func (h *PeerHandler) Remove(ctx context.Context, cmd commands.RemovePeerCommand) (interface{}, error) {
	did, err := parseDID(cmd.DID)
	if err != nil {
		return nil, err
	}
	if err := h.owner.RemovePeer(ctx, did); err != nil {
		return nil, err
	}
	return RemovedPeer{DID: cmd.DID, Removed: true}, nil
}
