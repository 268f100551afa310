package handlers

import (
	"context"

	"esence/application/commands"

	"go.uber.org/zap"
)

// SettingsHandler handles mood, auto-approve, chat and the owner context
type SettingsHandler struct {
	owner  Owner
	logger *zap.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(owner Owner, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{owner: owner, logger: logger}
}

func (h *SettingsHandler) SetMood(ctx context.Context, cmd commands.SetMoodCommand) (interface{}, error) {
	return h.owner.SetMood(ctx, cmd.Mood)
}

func (h *SettingsHandler) SetAutoApprove(ctx context.Context, cmd commands.SetAutoApproveCommand) (interface{}, error) {
	return h.owner.SetAutoApprove(ctx, cmd.Enabled)
}

func (h *SettingsHandler) Chat(ctx context.Context, cmd commands.ChatCommand) (interface{}, error) {
	reply, err := h.owner.Chat(ctx, cmd.Message)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (h *SettingsHandler) WriteContext(ctx context.Context, cmd commands.WriteContextCommand) (interface{}, error) {
	if err := h.owner.WriteContext(ctx, cmd.Context); err != nil {
		return nil, err
	}
	h.logger.Info("owner context updated", zap.Int("bytes", len(cmd.Context)))
	return ContextResult{Context: cmd.Context}, nil
}
