// Package queries defines the read-only requests of the control surface
package queries

import (
	"esence/domain/core/valueobjects"
	"esence/pkg/utils"
)

// GetStateQuery returns the node-wide state snapshot
type GetStateQuery struct{}

// Validate validates the query
func (q GetStateQuery) Validate() error { return nil }

// ListPendingQuery lists threads awaiting the owner
type ListPendingQuery struct{}

// Validate validates the query
func (q ListPendingQuery) Validate() error { return nil }

// ListThreadsQuery lists threads, optionally filtered by status and peer
type ListThreadsQuery struct {
	Status string `json:"status" validate:"omitempty,oneof=pending_human_review approved auto_approved sent answered rejected"`
	Peer   string `json:"peer" validate:"omitempty,did"`
	Limit  int    `json:"limit" validate:"min=0,max=1000"`
}

// Validate validates the query
func (q ListThreadsQuery) Validate() error { return utils.ValidateStruct(q) }

// Matches reports whether a thread passes the filter
func (q ListThreadsQuery) Matches(status valueobjects.ThreadStatus, peer valueobjects.DID) bool {
	if q.Status != "" && string(status) != q.Status {
		return false
	}
	if q.Peer != "" && peer.String() != q.Peer {
		return false
	}
	return true
}

// GetThreadQuery returns one thread with its messages
type GetThreadQuery struct {
	ThreadID string `json:"thread_id" validate:"required,uuid"`
}

// Validate validates the query
func (q GetThreadQuery) Validate() error { return utils.ValidateStruct(q) }

// ListPeersQuery lists the known peers
type ListPeersQuery struct {
	ExcludeBlocked bool `json:"exclude_blocked"`
}

// Validate validates the query
func (q ListPeersQuery) Validate() error { return nil }

// GetContextQuery returns the owner's free-text context
type GetContextQuery struct{}

// Validate validates the query
func (q GetContextQuery) Validate() error { return nil }

// GetIdentityQuery returns the published identity document
type GetIdentityQuery struct{}

// Validate validates the query
func (q GetIdentityQuery) Validate() error { return nil }

// GetChatHistoryQuery returns the retained chat turns
type GetChatHistoryQuery struct{}

// Validate validates the query
func (q GetChatHistoryQuery) Validate() error { return nil }
