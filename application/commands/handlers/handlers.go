package handlers

import (
	"context"
	"fmt"

	"esence/application/commands"
	"esence/application/commands/bus"
	"esence/application/node"
	"esence/application/services"
	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// Owner is the part of the node the owner's commands drive
type Owner interface {
	Approve(ctx context.Context, id valueobjects.ThreadID, editedReply string) (aggregates.ThreadRecord, error)
	Reject(ctx context.Context, id valueobjects.ThreadID) (aggregates.ThreadRecord, error)
	Send(ctx context.Context, to, subject, content string) (aggregates.ThreadRecord, error)
	SetMood(ctx context.Context, raw string) (entities.Settings, error)
	SetAutoApprove(ctx context.Context, on bool) (entities.Settings, error)
	Chat(ctx context.Context, content string) (node.ChatReply, error)
	WriteContext(ctx context.Context, text string) error
	AddPeer(ctx context.Context, raw string) (entities.Peer, error)
	UpdatePeer(ctx context.Context, did valueobjects.DID, update services.PeerUpdate) (entities.Peer, error)
	BlockPeer(ctx context.Context, did valueobjects.DID, blocked bool) (entities.Peer, error)
	RemovePeer(ctx context.Context, did valueobjects.DID) error
}

// ContextResult is returned after the owner context was written
type ContextResult struct {
	Context string `json:"context"`
}

// RemovedPeer is returned after a peer was forgotten
type RemovedPeer struct {
	DID     string `json:"did"`
	Removed bool   `json:"removed"`
}

// Register binds every owner command to its handler
func Register(b *bus.CommandBus, owner Owner, logger *zap.Logger) error {
	threads := NewThreadHandler(owner, logger)
	settings := NewSettingsHandler(owner, logger)
	peers := NewPeerHandler(owner, logger)

	registrations := []struct {
		cmd     bus.Command
		handler bus.CommandHandler
	}{
		{commands.ApproveThreadCommand{}, bus.Handler(threads.Approve)},
		{commands.RejectThreadCommand{}, bus.Handler(threads.Reject)},
		{commands.SendMessageCommand{}, bus.Handler(threads.Send)},
		{commands.SetMoodCommand{}, bus.Handler(settings.SetMood)},
		{commands.SetAutoApproveCommand{}, bus.Handler(settings.SetAutoApprove)},
		{commands.ChatCommand{}, bus.Handler(settings.Chat)},
		{commands.WriteContextCommand{}, bus.Handler(settings.WriteContext)},
		{commands.AddPeerCommand{}, bus.Handler(peers.Add)},
		{commands.UpdatePeerCommand{}, bus.Handler(peers.Update)},
		{commands.BlockPeerCommand{}, bus.Handler(peers.Block)},
		{commands.RemovePeerCommand{}, bus.Handler(peers.Remove)},
	}
	for _, r := range registrations {
		if err := b.Register(r.cmd, r.handler); err != nil {
			return fmt.Errorf("failed to register command handler: %w", err)
		}
	}
	return nil
}

func parseThreadID(raw string) (valueobjects.ThreadID, error) {
	id, err := valueobjects.NewThreadIDFromString(raw)
	if err != nil {
		return valueobjects.ThreadID{}, apperrors.NewValidationError(err.Error())
	}
	return id, nil
}

func parseDID(raw string) (valueobjects.DID, error) {
	did, err := valueobjects.ParseDID(raw)
	if err != nil {
		return valueobjects.DID{}, apperrors.NewValidationError(err.Error())
	}
	return did, nil
}
