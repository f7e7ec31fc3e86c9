package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Ensure MockEventPublisher implements EventPublisher
var _ driven.EventPublisher = (*MockEventPublisher)(nil)

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu       sync.Mutex
	events   []domain.DocumentStatusEvent
	failNext bool
}

// NewMockEventPublisher creates a new MockEventPublisher
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) PublishDocumentStatus(ctx context.Context, event domain.DocumentStatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return domain.ErrServiceUnavailable
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventPublisher) Close() error {
	return nil
}

// Events returns a copy of the published events
func (m *MockEventPublisher) Events() []domain.DocumentStatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DocumentStatusEvent(nil), m.events...)
}

func (m *MockEventPublisher) SetFailNext(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = fail
}
