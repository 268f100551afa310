// Package mocks provides testify mocks for the application ports.
package mocks

import (
	"context"
	"sync"

	"esence/application/ports"
	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/domain/events"

	"github.com/stretchr/testify/mock"
)

// MockEngine mocks ports.EssenceEngine
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Generate(ctx context.Context, req ports.GenerationRequest) (ports.Generation, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ports.Generation), args.Error(1)
}

func (m *MockEngine) Chat(ctx context.Context, req ports.ChatRequest) (ports.Generation, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ports.Generation), args.Error(1)
}

func (m *MockEngine) Complete(ctx context.Context, system, prompt string, maxUnits int) (ports.Generation, error) {
	args := m.Called(ctx, system, prompt, maxUnits)
	return args.Get(0).(ports.Generation), args.Error(1)
}

// MockSender mocks ports.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, endpoint string, msg entities.Message) (ports.Delivery, error) {
	args := m.Called(ctx, endpoint, msg)
	return args.Get(0).(ports.Delivery), args.Error(1)
}

// MockResolver mocks ports.Resolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, did valueobjects.DID) (entities.IdentityDocument, error) {
	args := m.Called(ctx, did)
	return args.Get(0).(entities.IdentityDocument), args.Error(1)
}

func (m *MockResolver) Invalidate(did valueobjects.DID) {
	m.Called(did)
}

// MockThreadStore mocks ports.ThreadStore
type MockThreadStore struct {
	mock.Mock
}

func (m *MockThreadStore) SaveThread(ctx context.Context, r aggregates.ThreadRecord) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockThreadStore) LoadThreads(ctx context.Context) ([]aggregates.ThreadRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]aggregates.ThreadRecord), args.Error(1)
}

// MockBudgetStore mocks ports.BudgetStore
type MockBudgetStore struct {
	mock.Mock
}

func (m *MockBudgetStore) LoadBudget(ctx context.Context) (entities.Budget, error) {
	args := m.Called(ctx)
	return args.Get(0).(entities.Budget), args.Error(1)
}

func (m *MockBudgetStore) SaveBudget(ctx context.Context, b entities.Budget) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

// MockCorrectionStore mocks ports.CorrectionStore
type MockCorrectionStore struct {
	mock.Mock
}

func (m *MockCorrectionStore) AppendCorrection(ctx context.Context, c entities.Correction) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockCorrectionStore) LoadCorrections(ctx context.Context) ([]entities.Correction, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.Correction), args.Error(1)
}

// RecordingPublisher collects published events. It is safe for concurrent use.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *RecordingPublisher) Publish(evts ...events.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
}

// Events returns a copy of everything published so far
func (p *RecordingPublisher) Events() []events.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.DomainEvent(nil), p.events...)
}

// Types returns the event types published so far, in order
func (p *RecordingPublisher) Types() []string {
	evts := p.Events()
	out := make([]string, len(evts))
	for i, e := range evts {
		out[i] = e.GetEventType()
	}
	return out
}

// Has reports whether an event of the given type was published
func (p *RecordingPublisher) Has(eventType string) bool {
	for _, t := range p.Types() {
		if t == eventType {
			return true
		}
	}
	return false
}

var (
	_ ports.EssenceEngine   = (*MockEngine)(nil)
	_ ports.Sender          = (*MockSender)(nil)
	_ ports.Resolver        = (*MockResolver)(nil)
	_ ports.ThreadStore     = (*MockThreadStore)(nil)
	_ ports.BudgetStore     = (*MockBudgetStore)(nil)
	_ ports.CorrectionStore = (*MockCorrectionStore)(nil)
	_ ports.EventPublisher  = (*RecordingPublisher)(nil)
)
