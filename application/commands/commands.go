// Package commands defines the state-changing requests of the control
// surface. REST handlers and websocket clients build these and send them
// through the command bus.
package commands

import (
	"esence/pkg/utils"
)

// ApproveThreadCommand sends the candidate (or an edited) reply of a thread
type ApproveThreadCommand struct {
	ThreadID    string `json:"thread_id" validate:"required,uuid"`
	EditedReply string `json:"edited_reply,omitempty" validate:"max=65536"`
}

// Validate validates the command
func (c ApproveThreadCommand) Validate() error { return utils.ValidateStruct(c) }

// RejectThreadCommand closes a thread without answering
type RejectThreadCommand struct {
	ThreadID string `json:"thread_id" validate:"required,uuid"`
}

// Validate validates the command
func (c RejectThreadCommand) Validate() error { return utils.ValidateStruct(c) }

// SendMessageCommand opens an owner-initiated thread
type SendMessageCommand struct {
	To      string `json:"to_did" validate:"required,did"`
	Subject string `json:"subject" validate:"max=200"`
	Content string `json:"content" validate:"required,max=65536"`
}

// Validate validates the command
func (c SendMessageCommand) Validate() error { return utils.ValidateStruct(c) }

// SetMoodCommand changes the owner's availability
type SetMoodCommand struct {
	Mood string `json:"mood" validate:"required,oneof=available moderate absent dnd"`
}

// Validate validates the command
func (c SetMoodCommand) Validate() error { return utils.ValidateStruct(c) }

// SetAutoApproveCommand toggles autonomous answering
type SetAutoApproveCommand struct {
	Enabled bool `json:"enabled"`
}

// Validate validates the command
func (c SetAutoApproveCommand) Validate() error { return nil }

// ChatCommand talks to the owner's own agent
type ChatCommand struct {
	Message string `json:"message" validate:"required,max=16384"`
}

// Validate validates the command
func (c ChatCommand) Validate() error { return utils.ValidateStruct(c) }

// WriteContextCommand replaces the owner's free-text context
type WriteContextCommand struct {
	Context string `json:"context" validate:"max=262144"`
}

// Validate validates the command
func (c WriteContextCommand) Validate() error { return utils.ValidateStruct(c) }

// AddPeerCommand resolves and registers a peer
type AddPeerCommand struct {
	DID string `json:"did" validate:"required,did"`
}

// Validate validates the command
func (c AddPeerCommand) Validate() error { return utils.ValidateStruct(c) }

// UpdatePeerCommand edits a peer. Nil fields are left unchanged.
type UpdatePeerCommand struct {
	DID     string   `json:"did" validate:"required,did"`
	Trust   *float64 `json:"trust_score,omitempty" validate:"omitempty,min=0,max=1"`
	Alias   *string  `json:"alias,omitempty" validate:"omitempty,max=64"`
	Blocked *bool    `json:"blocked,omitempty"`
}

// Validate validates the command
func (c UpdatePeerCommand) Validate() error { return utils.ValidateStruct(c) }

// BlockPeerCommand sets or clears the block flag
type BlockPeerCommand struct {
	DID     string `json:"did" validate:"required,did"`
	Blocked bool   `json:"blocked"`
}

// Validate validates the command
func (c BlockPeerCommand) Validate() error { return utils.ValidateStruct(c) }

// RemovePeerCommand forgets a peer
type RemovePeerCommand struct {
	DID string `json:"did" validate:"required,did"`
}

// Validate validates the command
func (c RemovePeerCommand) Validate() error { return utils.ValidateStruct(c) }
