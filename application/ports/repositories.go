package ports

import (
	"context"
	"errors"

	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
)

// ErrNotFound is returned by stores when a record does not exist yet
var ErrNotFound = errors.New("record not found")

// ThreadStore persists one file per thread. The Queue is its only writer.
type ThreadStore interface {
	// SaveThread atomically replaces the record for r.ID
	SaveThread(ctx context.Context, r aggregates.ThreadRecord) error

	// LoadThreads reads every persisted thread, skipping unreadable files
	LoadThreads(ctx context.Context) ([]aggregates.ThreadRecord, error)
}

// PeerStore persists the peer list. PeerService is its only writer.
type PeerStore interface {
	LoadPeers(ctx context.Context) ([]entities.Peer, error)
	SavePeers(ctx context.Context, peers []entities.Peer) error
}

// CorrectionStore is the append-only correction log
type CorrectionStore interface {
	AppendCorrection(ctx context.Context, c entities.Correction) error
	LoadCorrections(ctx context.Context) ([]entities.Correction, error)
}

// PatternStore persists extracted patterns
type PatternStore interface {
	LoadPatterns(ctx context.Context) ([]entities.Pattern, error)
	SavePatterns(ctx context.Context, patterns []entities.Pattern) error
}

// BudgetStore persists the capacity ledger
type BudgetStore interface {
	// LoadBudget returns ErrNotFound on a fresh store
	LoadBudget(ctx context.Context) (entities.Budget, error)
	SaveBudget(ctx context.Context, b entities.Budget) error
}

// SettingsStore persists the owner's switches
type SettingsStore interface {
	LoadSettings(ctx context.Context) (entities.Settings, error)
	SaveSettings(ctx context.Context, s entities.Settings) error
}

// ContextStore holds the owner's free-text context
type ContextStore interface {
	ReadContext(ctx context.Context) (string, error)
	WriteContext(ctx context.Context, text string) error
}

// IdentityStore persists the public identity record and document
type IdentityStore interface {
	// LoadIdentity returns ErrNotFound before the first boot
	LoadIdentity(ctx context.Context) (entities.Identity, error)
	SaveIdentity(ctx context.Context, id entities.Identity, doc entities.IdentityDocument) error
}

// EssenceStore groups every store the node needs
type EssenceStore interface {
	ThreadStore
	PeerStore
	CorrectionStore
	PatternStore
	BudgetStore
	SettingsStore
	ContextStore
	IdentityStore
}
