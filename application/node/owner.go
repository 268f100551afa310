package node

import (
	"context"
	"strings"

	"esence/application/ports"
	"esence/application/queue"
	"esence/application/services"
	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// ChatReply is the agent's answer to the owner
type ChatReply struct {
	Content string `json:"content"`
	Units   int64  `json:"units"`
}

// SetMood changes the owner's availability
func (n *Node) SetMood(ctx context.Context, raw string) (entities.Settings, error) {
	mood, err := valueobjects.ParseMood(strings.TrimSpace(raw))
	if err != nil {
		return entities.Settings{}, apperrors.NewValidationError(err.Error())
	}
	settings, changed, err := n.updateSettings(ctx, func(s *entities.Settings) bool {
		if s.Mood == mood {
			return false
		}
		s.Mood = mood
		return true
	})
	if err != nil {
		return entities.Settings{}, err
	}
	if changed {
		n.logger.Info("mood changed", zap.String("mood", string(mood)))
		n.publish(events.NewMoodChanged(n.deps.Identity.DID().String(), mood, n.deps.Clock.Now()))
	}
	return settings, nil
}

// SetAutoApprove toggles autonomous answering for every new thread
func (n *Node) SetAutoApprove(ctx context.Context, on bool) (entities.Settings, error) {
	settings, changed, err := n.updateSettings(ctx, func(s *entities.Settings) bool {
		if s.AutoApprove == on {
			return false
		}
		s.AutoApprove = on
		return true
	})
	if err != nil {
		return entities.Settings{}, err
	}
	if changed {
		n.logger.Info("auto-approve toggled", zap.Bool("enabled", on))
	}
	return settings, nil
}

// updateSettings persists a change before it becomes visible
func (n *Node) updateSettings(ctx context.Context, apply func(*entities.Settings) bool) (entities.Settings, bool, error) {
	n.mu.Lock()
	next := n.settings
	if !apply(&next) {
		n.mu.Unlock()
		return next, false, nil
	}
	next.UpdatedAt = n.deps.Clock.Now()
	err := n.deps.Store.SaveSettings(ctx, next)
	if err == nil {
		n.settings = next
		n.state.setMood(next.Mood)
		n.state.setAutoApprove(next.AutoApprove)
	}
	n.mu.Unlock()

	if err != nil {
		if !apperrors.IsStorageWriteFailed(err) {
			err = apperrors.NewStorageWriteFailedError("settings", err)
		}
		n.reportStorageFailure(err)
		return entities.Settings{}, false, err
	}
	return next, true, nil
}

// Chat lets the owner talk to their own agent. The usage is charged to the
// owner's share of the budget, never to the donated one.
func (n *Node) Chat(ctx context.Context, content string) (ChatReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return ChatReply{}, apperrors.NewValidationError("message is required")
	}

	n.chatMu.Lock()
	history := append([]ports.ChatTurn(nil), n.chat...)
	n.chatMu.Unlock()

	gen, err := n.deps.Engine.Chat(ctx, ports.ChatRequest{
		Content: content,
		History: history,
		Essence: n.Essence(ctx),
	})
	if err != nil {
		n.logger.Warn("owner chat failed", zap.Error(err))
		return ChatReply{}, apperrors.NewGenerationFailedError("chat", err)
	}
	if err := n.deps.Capacity.RecordOwner(ctx, gen.Units()); err != nil {
		n.check(err)
		n.logger.Warn("failed to record owner usage", zap.Error(err))
	}

	n.chatMu.Lock()
	n.chat = append(n.chat,
		ports.ChatTurn{Role: ports.RoleUser, Content: content},
		ports.ChatTurn{Role: ports.RoleAssistant, Content: gen.Content},
	)
	if len(n.chat) > chatHistoryLimit {
		n.chat = append([]ports.ChatTurn(nil), n.chat[len(n.chat)-chatHistoryLimit:]...)
	}
	n.chatMu.Unlock()

	return ChatReply{Content: gen.Content, Units: gen.Units()}, nil
}

// ChatHistory returns the retained chat turns
func (n *Node) ChatHistory() []ports.ChatTurn {
	n.chatMu.Lock()
	defer n.chatMu.Unlock()
	return append([]ports.ChatTurn(nil), n.chat...)
}

// ReadContext returns the owner's free-text context
func (n *Node) ReadContext(ctx context.Context) (string, error) {
	return n.deps.Store.ReadContext(ctx)
}

// WriteContext replaces the owner's free-text context
func (n *Node) WriteContext(ctx context.Context, text string) error {
	if err := n.deps.Store.WriteContext(ctx, text); err != nil {
		n.check(err)
		return err
	}
	return nil
}

// Send opens an owner-initiated thread and delivers its first message
func (n *Node) Send(ctx context.Context, to, subject, content string) (aggregates.ThreadRecord, error) {
	did, err := valueobjects.ParseDID(strings.TrimSpace(to))
	if err != nil {
		return aggregates.ThreadRecord{}, apperrors.NewValidationError(err.Error())
	}
	if did.Equals(n.deps.Identity.DID()) {
		return aggregates.ThreadRecord{}, apperrors.NewValidationError("cannot send a message to this node")
	}
	domain := n.deps.Classifier.Classify(subject, content)
	return n.queue.Start(ctx, did, subject, content, domain)
}

// Approve sends the reply of a pending thread
func (n *Node) Approve(ctx context.Context, id valueobjects.ThreadID, editedReply string) (aggregates.ThreadRecord, error) {
	return n.queue.Approve(ctx, id, editedReply)
}

// Reject closes a thread without answering
func (n *Node) Reject(ctx context.Context, id valueobjects.ThreadID) (aggregates.ThreadRecord, error) {
	return n.queue.Reject(ctx, id)
}

// Thread returns one thread
func (n *Node) Thread(ctx context.Context, id valueobjects.ThreadID) (aggregates.ThreadRecord, error) {
	return n.queue.Get(ctx, id)
}

// Pending lists threads awaiting the owner
func (n *Node) Pending(ctx context.Context) ([]queue.Summary, error) {
	return n.queue.Pending(ctx)
}

// Threads lists every thread
func (n *Node) Threads(ctx context.Context) ([]queue.Summary, error) {
	return n.queue.List(ctx)
}

// Peers lists the known peers
func (n *Node) Peers() []entities.Peer {
	return n.deps.Peers.List()
}

// AddPeer resolves and registers a peer
func (n *Node) AddPeer(ctx context.Context, raw string) (entities.Peer, error) {
	did, err := valueobjects.ParseDID(strings.TrimSpace(raw))
	if err != nil {
		return entities.Peer{}, apperrors.NewValidationError(err.Error())
	}
	p, err := n.deps.Peers.Add(ctx, did)
	n.check(err)
	return p, err
}

// UpdatePeer edits trust, alias or block flag
func (n *Node) UpdatePeer(ctx context.Context, did valueobjects.DID, update services.PeerUpdate) (entities.Peer, error) {
	p, err := n.deps.Peers.Upsert(ctx, did, update)
	n.check(err)
	return p, err
}

// BlockPeer sets or clears the block flag
func (n *Node) BlockPeer(ctx context.Context, did valueobjects.DID, blocked bool) (entities.Peer, error) {
	p, err := n.deps.Peers.Block(ctx, did, blocked)
	n.check(err)
	return p, err
}

// RemovePeer forgets a peer
func (n *Node) RemovePeer(ctx context.Context, did valueobjects.DID) error {
	err := n.deps.Peers.Remove(ctx, did)
	n.check(err)
	return err
}
