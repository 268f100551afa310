package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"esence/application/ports"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"
	"esence/pkg/observability"
	"esence/pkg/utils"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// CapacityConfig sets the donated budget
type CapacityConfig struct {
	TotalUnits    int64
	DonationPct   int
	Period        time.Duration
	EstimateBase  int64
	PriorityPeers []string
}

// CapacityService gates inbound work against the donated budget. It is the
// only writer of the budget file.
type CapacityService struct {
	mu        sync.Mutex
	cfg       CapacityConfig
	budget    entities.Budget
	priority  map[string]bool
	store     ports.BudgetStore
	publisher ports.EventPublisher
	clock     utils.Clock
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewCapacityService loads the ledger, starting a fresh one on first boot.
// A changed total or donation share in cfg replaces the stored limit.
func NewCapacityService(
	ctx context.Context,
	cfg CapacityConfig,
	store ports.BudgetStore,
	publisher ports.EventPublisher,
	clock utils.Clock,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*CapacityService, error) {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	budget, err := store.LoadBudget(ctx)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		budget = entities.NewBudget(cfg.TotalUnits, cfg.DonationPct, clock.Now())
	case err != nil:
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	budget.DonationPct = cfg.DonationPct
	budget.LimitUnits = entities.DonatedUnits(cfg.TotalUnits, cfg.DonationPct)
	if budget.PerPeerUsage == nil {
		budget.PerPeerUsage = map[string]int64{}
	}

	priority := make(map[string]bool, len(cfg.PriorityPeers))
	for _, did := range cfg.PriorityPeers {
		priority[did] = true
	}

	return &CapacityService{
		cfg:       cfg,
		budget:    budget,
		priority:  priority,
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger.Named("capacity"),
		metrics:   metrics,
	}, nil
}

// Estimate predicts the cost of answering content
func (s *CapacityService) Estimate(content string) int64 {
	return s.cfg.EstimateBase + int64(len(content)/4)
}

// IsPriority reports whether did bypasses the limit
func (s *CapacityService) IsPriority(did valueobjects.DID) bool {
	return s.priority[did.String()]
}

// Admit reserves estimated units for peer. A denial is a policy outcome,
// not an error: the returned error is only set when the ledger could not be
// persisted, in which case nothing was reserved.
func (s *CapacityService) Admit(ctx context.Context, peer valueobjects.DID, estimated int64) (entities.Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.budget.Clone()
	rolled := s.rollover()
	admission := s.budget.Admit(peer.String(), estimated, s.IsPriority(peer))

	if admission.Allowed || rolled != nil {
		if err := s.persist(ctx, before, rolled); err != nil {
			return entities.Admission{}, err
		}
	}

	verdict := "allowed"
	if !admission.Allowed {
		verdict = "denied"
		s.logger.Info("capacity denied",
			zap.String("peer", peer.String()),
			zap.Int64("estimated", estimated),
			zap.Int64("used", s.budget.UsedUnits),
			zap.Int64("limit", s.budget.LimitUnits),
		)
		s.publish(events.NewCapacityDenied(peer, admission.Reason, s.clock.Now()))
	}
	s.metrics.ObserveAdmission(verdict, s.budget.UsedUnits)
	return admission, nil
}

// Record charges the actual cost of work done for peer
func (s *CapacityService) Record(ctx context.Context, peer valueobjects.DID, actual int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.budget.Clone()
	rolled := s.rollover()
	s.budget.Record(peer.String(), actual)
	return s.persist(ctx, before, rolled)
}

// RecordOwner tracks the owner's own usage
func (s *CapacityService) RecordOwner(ctx context.Context, units int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.budget.Clone()
	rolled := s.rollover()
	s.budget.RecordOwner(units)
	return s.persist(ctx, before, rolled)
}

// Snapshot returns a copy of the ledger
func (s *CapacityService) Snapshot() entities.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget.Clone()
}

// StatusBody renders the ledger for a capacity_status message
func (s *CapacityService) StatusBody() entities.CapacityStatusBody {
	b := s.Snapshot()
	return entities.CapacityStatusBody{
		AvailablePct:     b.AvailablePct(),
		MonthlyRemaining: b.Remaining(),
	}
}

// rollover opens a new period when the current one has ended and returns
// the event to publish once the ledger is saved. mu must be held.
func (s *CapacityService) rollover() events.DomainEvent {
	prevUsed := s.budget.UsedUnits
	if !s.budget.Rollover(s.clock.Now(), s.cfg.Period) {
		return nil
	}
	return events.NewBudgetRolledOver(s.budget.PeriodStart, prevUsed, s.clock.Now())
}

// persist writes the ledger, restoring before on failure. A rollover event
// is published only after the write succeeds. mu must be held.
func (s *CapacityService) persist(ctx context.Context, before entities.Budget, rolled events.DomainEvent) error {
	if err := s.store.SaveBudget(ctx, s.budget.Clone()); err != nil {
		s.budget = before
		s.logger.Error("failed to persist budget", zap.Error(err))
		if apperrors.IsStorageWriteFailed(err) {
			return err
		}
		return apperrors.NewStorageWriteFailedError("budget", err)
	}
	if rolled != nil {
		s.logger.Info("budget period rolled over",
			zap.Time("previous_start", before.PeriodStart),
			zap.Time("period_start", s.budget.PeriodStart),
			zap.Int64("previous_used", before.UsedUnits),
		)
		s.publish(rolled)
	}
	return nil
}

func (s *CapacityService) publish(evt events.DomainEvent) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}
