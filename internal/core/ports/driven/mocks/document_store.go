package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Ensure mocks implement their ports
var (
	_ driven.DocumentStore     = (*MockDocumentStore)(nil)
	_ driven.ConversationStore = (*MockConversationStore)(nil)
)

// MockDocumentStore is a mock implementation of DocumentStore for testing.
// Documents are copied on the way in and out, like a real database.
type MockDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	history   map[string][]domain.IngestionStatus
	failSave  bool
	listErr   error
}

// NewMockDocumentStore creates a new MockDocumentStore
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]domain.Document),
		history:   make(map[string][]domain.IngestionStatus),
	}
}

func (m *MockDocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return domain.ErrServiceUnavailable
	}
	m.documents[doc.ID] = *doc
	m.history[doc.ID] = append(m.history[doc.ID], doc.Status)
	return nil
}

func (m *MockDocumentStore) UpdateStatus(ctx context.Context, doc *domain.Document, prev domain.IngestionStatus, prevUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return domain.ErrServiceUnavailable
	}
	stored, ok := m.documents[doc.ID]
	if !ok || stored.Status != prev || !stored.UpdatedAt.Equal(prevUpdatedAt) {
		return fmt.Errorf("%w: document %s is no longer %s", domain.ErrInvalidTransition, doc.ID, prev)
	}
	stored.Status = doc.Status
	stored.Error = doc.Error
	stored.PassageCount = doc.PassageCount
	stored.UpdatedAt = doc.UpdatedAt
	m.documents[doc.ID] = stored
	m.history[doc.ID] = append(m.history[doc.ID], doc.Status)
	return nil
}

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

func (m *MockDocumentStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.Document
	for _, doc := range m.documents {
		if doc.OwnerID == ownerID {
			d := doc
			result = append(result, &d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return page(result, limit, offset), nil
}

func (m *MockDocumentStore) ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	var result []*domain.Document
	for _, doc := range m.documents {
		if doc.Status == domain.IngestionProcessing && doc.UpdatedAt.Before(olderThan) {
			d := doc
			result = append(result, &d)
		}
	}
	return result, nil
}

// Helper methods for testing

// StatusHistory returns every status a document was saved with, in order
func (m *MockDocumentStore) StatusHistory(id string) []domain.IngestionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.IngestionStatus(nil), m.history[id]...)
}

// SetFailSave makes every subsequent Save fail
func (m *MockDocumentStore) SetFailSave(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = fail
}

// SetListError makes ListStuck fail with err
func (m *MockDocumentStore) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// MockConversationStore is an in-memory append-only message log
type MockConversationStore struct {
	mu          sync.RWMutex
	messages    map[string][]domain.Message
	seq         int64
	failAppend  bool
	failHistory bool
}

// NewMockConversationStore creates a new MockConversationStore
func NewMockConversationStore() *MockConversationStore {
	return &MockConversationStore{
		messages: make(map[string][]domain.Message),
	}
}

func (m *MockConversationStore) Append(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return nil, domain.ErrServiceUnavailable
	}

	m.seq++
	stored := *msg
	stored.ID = domain.GenerateID()
	stored.CreatedAt = time.Now()
	stored.Seq = m.seq
	m.messages[msg.DocumentID] = append(m.messages[msg.DocumentID], stored)
	return &stored, nil
}

func (m *MockConversationStore) RecentHistory(ctx context.Context, documentID string, limit int) ([]*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failHistory {
		return nil, domain.ErrServiceUnavailable
	}

	all := m.messages[documentID]
	start := 0
	if limit >= 0 && len(all) > limit {
		start = len(all) - limit
	}
	result := make([]*domain.Message, 0, len(all)-start)
	for i := start; i < len(all); i++ {
		msg := all[i]
		result = append(result, &msg)
	}
	return result, nil
}

func (m *MockConversationStore) List(ctx context.Context, documentID string, limit int, before string) ([]*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[documentID]
	end := len(all)
	if before != "" {
		end = -1
		for i, msg := range all {
			if msg.ID == before {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, domain.ErrNotFound
		}
	}

	var result []*domain.Message
	for i := end - 1; i >= 0 && len(result) < limit; i-- {
		msg := all[i]
		result = append(result, &msg)
	}
	return result, nil
}

func (m *MockConversationStore) Count(ctx context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[documentID]), nil
}

// Helper methods for testing

// All returns every message of a document in append order
func (m *MockConversationStore) All(documentID string) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.messages[documentID]...)
}

func (m *MockConversationStore) SetFailAppend(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppend = fail
}

func (m *MockConversationStore) SetFailHistory(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failHistory = fail
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
