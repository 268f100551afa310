package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"esence/application/ports"
	"esence/domain/config"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"
	"esence/pkg/utils"

	domainsvc "esence/domain/services"

	"github.com/agnivade/levenshtein"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

const extractionTimeout = 2 * time.Minute

// CorrectionInput describes one owner decision on a candidate
type CorrectionInput struct {
	ThreadID  valueobjects.ThreadID
	Peer      valueobjects.DID
	Domain    string
	Candidate string
	Final     string
}

// CorrectionService logs owner edits and recomputes maturity. Every Nth
// correction starts a detached pattern extraction whose result is reported
// only through the event publisher.
type CorrectionService struct {
	corrections ports.CorrectionStore
	patterns    ports.PatternStore
	extractor   *PatternExtractor
	strategy    domainsvc.MaturityStrategy
	cfg         *config.DomainConfig
	publisher   ports.EventPublisher
	clock       utils.Clock
	logger      *zap.Logger
	dmp         *diffmatchpatch.DiffMatchPatch

	mu       sync.Mutex
	maturity float64

	// logMu makes append, count and the extraction decision one step
	logMu sync.Mutex

	// patternsMu serializes read-merge-write of patterns.json
	patternsMu sync.Mutex
	tasks      sync.WaitGroup
}

// NewCorrectionService creates the service and computes the current maturity
func NewCorrectionService(
	ctx context.Context,
	corrections ports.CorrectionStore,
	patterns ports.PatternStore,
	extractor *PatternExtractor,
	strategy domainsvc.MaturityStrategy,
	cfg *config.DomainConfig,
	publisher ports.EventPublisher,
	clock utils.Clock,
	logger *zap.Logger,
) (*CorrectionService, error) {
	if strategy == nil {
		strategy = domainsvc.DefaultMaturity()
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	s := &CorrectionService{
		corrections: corrections,
		patterns:    patterns,
		extractor:   extractor,
		strategy:    strategy,
		cfg:         cfg,
		publisher:   publisher,
		clock:       clock,
		logger:      logger.Named("corrections"),
		dmp:         dmp,
	}
	score, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}
	s.maturity = score
	return s, nil
}

// Log appends a correction when the owner's final text differs from the
// candidate. It returns nil when nothing was recorded.
func (s *CorrectionService) Log(ctx context.Context, in CorrectionInput) (*entities.Correction, error) {
	if strings.TrimSpace(in.Final) == "" || in.Final == in.Candidate {
		return nil, nil
	}

	c := entities.Correction{
		ThreadID:          in.ThreadID,
		FromDID:           in.Peer.String(),
		OriginalCandidate: in.Candidate,
		FinalContent:      in.Final,
		Diff:              s.Diff(in.Candidate, in.Final),
		EditDistance:      levenshtein.ComputeDistance(in.Candidate, in.Final),
		WasEdited:         true,
		Domain:            in.Domain,
		Timestamp:         s.clock.Now(),
	}
	s.logMu.Lock()
	if err := s.corrections.AppendCorrection(ctx, c); err != nil {
		s.logMu.Unlock()
		return nil, err
	}
	all, err := s.corrections.LoadCorrections(ctx)
	if err != nil {
		s.logMu.Unlock()
		return &c, err
	}
	total := len(all)
	if s.extractor != nil && s.cfg.CorrectionsPerExtraction > 0 && total%s.cfg.CorrectionsPerExtraction == 0 {
		s.startExtraction(all)
	}
	s.logMu.Unlock()

	s.logger.Info("correction logged",
		zap.String("thread_id", in.ThreadID.String()),
		zap.String("domain", in.Domain),
		zap.Int("edit_distance", c.EditDistance),
		zap.Int("total", total),
	)
	s.publish(events.NewCorrectionLogged(in.ThreadID, in.Domain, c.EditDistance, total, s.clock.Now()))

	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn("failed to recompute maturity", zap.Error(err))
	}
	return &c, nil
}

// Diff renders an inline word diff: removed text in [-…-], added in {+…+}
func (s *CorrectionService) Diff(before, after string) string {
	diffs := s.dmp.DiffMain(before, after, false)
	diffs = s.dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+" + d.Text + "+}")
		}
	}
	return b.String()
}

// Maturity returns the last computed score
func (s *CorrectionService) Maturity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maturity
}

// Refresh recomputes maturity from the stores and publishes a change
func (s *CorrectionService) Refresh(ctx context.Context) (float64, error) {
	score, err := s.compute(ctx)
	if err != nil {
		return s.Maturity(), err
	}

	s.mu.Lock()
	changed := score != s.maturity
	s.maturity = score
	s.mu.Unlock()

	if changed {
		s.publish(events.NewMaturityChanged(score, domainsvc.MaturityLabel(score), s.clock.Now()))
	}
	return score, nil
}

// Patterns returns the stored patterns
func (s *CorrectionService) Patterns(ctx context.Context) ([]entities.Pattern, error) {
	return s.patterns.LoadPatterns(ctx)
}

// Wait blocks until detached extraction tasks finish
func (s *CorrectionService) Wait() {
	s.tasks.Wait()
}

func (s *CorrectionService) compute(ctx context.Context) (float64, error) {
	corrections, err := s.corrections.LoadCorrections(ctx)
	if err != nil {
		return 0, err
	}
	patterns, err := s.patterns.LoadPatterns(ctx)
	if err != nil {
		return 0, err
	}
	return s.strategy.Score(domainsvc.MaturityInputs{Corrections: len(corrections), Patterns: len(patterns)}), nil
}

func (s *CorrectionService) startExtraction(all []entities.Correction) {
	window := all
	if n := s.cfg.ExtractionWindow; n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}
	window = append([]entities.Correction(nil), window...)

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), extractionTimeout)
		defer cancel()
		s.extract(ctx, window)
	}()
}

func (s *CorrectionService) extract(ctx context.Context, window []entities.Correction) {
	found, err := s.extractor.Extract(ctx, window)
	if err != nil {
		s.logger.Warn("pattern extraction failed", zap.Error(err))
		s.publish(events.NewPatternsUpdated(0, s.patternCount(ctx), err.Error(), s.clock.Now()))
		return
	}

	s.patternsMu.Lock()
	existing, err := s.patterns.LoadPatterns(ctx)
	if err != nil {
		s.patternsMu.Unlock()
		s.logger.Warn("failed to load patterns", zap.Error(err))
		s.publish(events.NewPatternsUpdated(0, 0, err.Error(), s.clock.Now()))
		return
	}
	merged, added := entities.MergePatterns(existing, found)
	if added > 0 {
		err = s.patterns.SavePatterns(ctx, merged)
	}
	s.patternsMu.Unlock()

	if err != nil {
		s.logger.Error("failed to save patterns", zap.Error(err))
		s.publish(events.NewPatternsUpdated(0, len(existing), err.Error(), s.clock.Now()))
		return
	}

	s.logger.Info("patterns extracted", zap.Int("added", added), zap.Int("total", len(merged)))
	s.publish(events.NewPatternsUpdated(added, len(merged), "", s.clock.Now()))
	if added > 0 {
		if _, err := s.Refresh(ctx); err != nil {
			s.logger.Warn("failed to recompute maturity", zap.Error(err))
		}
	}
}

func (s *CorrectionService) patternCount(ctx context.Context) int {
	patterns, err := s.patterns.LoadPatterns(ctx)
	if err != nil {
		return 0
	}
	return len(patterns)
}

func (s *CorrectionService) publish(evt events.DomainEvent) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}
