package handlers

import (
	"context"
	"fmt"

	"esence/application/node"
	"esence/application/ports"
	"esence/application/queries"
	"esence/application/queries/bus"
	"esence/application/queue"
	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"

	apperrors "esence/pkg/errors"
)

// Reader is the read side of the node
type Reader interface {
	State(ctx context.Context) node.State
	Pending(ctx context.Context) ([]queue.Summary, error)
	Threads(ctx context.Context) ([]queue.Summary, error)
	Thread(ctx context.Context, id valueobjects.ThreadID) (aggregates.ThreadRecord, error)
	Peers() []entities.Peer
	ReadContext(ctx context.Context) (string, error)
	Document() entities.IdentityDocument
	ChatHistory() []ports.ChatTurn
}

// ThreadList is a page of thread summaries
type ThreadList struct {
	Threads []queue.Summary `json:"threads"`
	Total   int             `json:"total"`
}

// PeerList is the peer list view
type PeerList struct {
	Peers []entities.Peer `json:"peers"`
	Total int             `json:"total"`
}

// ContextView is the owner context view
type ContextView struct {
	Context string `json:"context"`
}

// QueryHandler answers every control surface query
type QueryHandler struct {
	reader Reader
}

// NewQueryHandler creates a query handler
func NewQueryHandler(reader Reader) *QueryHandler {
	return &QueryHandler{reader: reader}
}

// Register binds every query to its handler
func Register(b *bus.QueryBus, reader Reader) error {
	h := NewQueryHandler(reader)
	registrations := []struct {
		query   bus.Query
		handler bus.QueryHandler
	}{
		{queries.GetStateQuery{}, bus.Handler(h.State)},
		{queries.ListPendingQuery{}, bus.Handler(h.Pending)},
		{queries.ListThreadsQuery{}, bus.Handler(h.Threads)},
		{queries.GetThreadQuery{}, bus.Handler(h.Thread)},
		{queries.ListPeersQuery{}, bus.Handler(h.Peers)},
		{queries.GetContextQuery{}, bus.Handler(h.Context)},
		{queries.GetIdentityQuery{}, bus.Handler(h.Identity)},
		{queries.GetChatHistoryQuery{}, bus.Handler(h.ChatHistory)},
	}
	for _, r := range registrations {
		if err := b.Register(r.query, r.handler); err != nil {
			return fmt.Errorf("failed to register query handler: %w", err)
		}
	}
	return nil
}

func (h *QueryHandler) State(ctx context.Context, _ queries.GetStateQuery) (interface{}, error) {
	return h.reader.State(ctx), nil
}

func (h *QueryHandler) Pending(ctx context.Context, _ queries.ListPendingQuery) (interface{}, error) {
	pending, err := h.reader.Pending(ctx)
	if err != nil {
		return nil, err
	}
	return ThreadList{Threads: nonNil(pending), Total: len(pending)}, nil
}

// Threads filters the full listing. Total counts the matches before the
// limit is applied.
func (h *QueryHandler) Threads(ctx context.Context, q queries.ListThreadsQuery) (interface{}, error) {
	all, err := h.reader.Threads(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]queue.Summary, 0, len(all))
	for _, s := range all {
		if q.Matches(s.Status, s.Peer) {
			matched = append(matched, s)
		}
	}
	total := len(matched)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return ThreadList{Threads: matched, Total: total}, nil
}

func (h *QueryHandler) Thread(ctx context.Context, q queries.GetThreadQuery) (interface{}, error) {
	id, err := valueobjects.NewThreadIDFromString(q.ThreadID)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	return h.reader.Thread(ctx, id)
}

func (h *QueryHandler) Peers(_ context.Context, q queries.ListPeersQuery) (interface{}, error) {
	all := h.reader.Peers()
	out := make([]entities.Peer, 0, len(all))
	for _, p := range all {
		if p.Blocked && q.ExcludeBlocked {
			continue
		}
		out = append(out, p)
	}
	return PeerList{Peers: out, Total: len(out)}, nil
}

func (h *QueryHandler) Context(ctx context.Context, _ queries.GetContextQuery) (interface{}, error) {
	text, err := h.reader.ReadContext(ctx)
	if err != nil {
		return nil, err
	}
	return ContextView{Context: text}, nil
}

func (h *QueryHandler) Identity(_ context.Context, _ queries.GetIdentityQuery) (interface{}, error) {
	return h.reader.Document(), nil
}

func (h *QueryHandler) ChatHistory(_ context.Context, _ queries.GetChatHistoryQuery) (interface{}, error) {
	return h.reader.ChatHistory(), nil
}

func nonNil(s []queue.Summary) []queue.Summary {
	if s == nil {
		return []queue.Summary{}
	}
	return s
}
