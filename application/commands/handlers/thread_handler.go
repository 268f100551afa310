package handlers

import (
	"context"

	"esence/application/commands"

	"go.uber.org/zap"
)

// ThreadHandler handles the review commands of the queue
type ThreadHandler struct {
	owner  Owner
	logger *zap.Logger
}

// NewThreadHandler creates a new thread handler
func NewThreadHandler(owner Owner, logger *zap.Logger) *ThreadHandler {
	return &ThreadHandler{owner: owner, logger: logger}
}

// Approve sends the reply of a pending thread. The call returns once the
// reply was delivered or the delivery failed.
func (h *ThreadHandler) Approve(ctx context.Context, cmd commands.ApproveThreadCommand) (interface{}, error) {
	id, err := parseThreadID(cmd.ThreadID)
	if err != nil {
		return nil, err
	}
	record, err := h.owner.Approve(ctx, id, cmd.EditedReply)
	if err != nil {
		return nil, err
	}
	h.logger.Info("thread approved",
		zap.String("thread_id", cmd.ThreadID),
		zap.Bool("edited", cmd.EditedReply != ""),
		zap.String("status", string(record.Status)),
	)
	return record, nil
}

// Reject closes a thread without answering
func (h *ThreadHandler) Reject(ctx context.Context, cmd commands.RejectThreadCommand) (interface{}, error) {
	id, err := parseThreadID(cmd.ThreadID)
	if err != nil {
		return nil, err
	}
	record, err := h.owner.Reject(ctx, id)
	if err != nil {
		return nil, err
	}
	h.logger.Info("thread rejected", zap.String("thread_id", cmd.ThreadID))
	return record, nil
}

// Send opens a thread with a peer
func (h *ThreadHandler) Send(ctx context.Context, cmd commands.SendMessageCommand) (interface{}, error) {
	record, err := h.owner.Send(ctx, cmd.To, cmd.Subject, cmd.Content)
	if err != nil {
		return nil, err
	}
	return record, nil
}
