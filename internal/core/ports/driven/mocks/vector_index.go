package mocks

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Ensure MockVectorIndex implements VectorIndex
var _ driven.VectorIndex = (*MockVectorIndex)(nil)

// MockVectorIndex is an in-memory cosine index keyed by (namespace, ordinal)
type MockVectorIndex struct {
	mu          sync.RWMutex
	namespaces  map[string]map[int]domain.EmbeddedPassage
	failUpsert  bool
	failQuery   bool
	upsertCalls int
}

// NewMockVectorIndex creates a new MockVectorIndex
func NewMockVectorIndex() *MockVectorIndex {
	return &MockVectorIndex{
		namespaces: make(map[string]map[int]domain.EmbeddedPassage),
	}
}

func (m *MockVectorIndex) Upsert(ctx context.Context, namespace string, passages []domain.EmbeddedPassage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.failUpsert {
		return domain.ErrIndexWrite
	}

	ns := make(map[int]domain.EmbeddedPassage, len(passages))
	m.namespaces[namespace] = ns
	for _, p := range passages {
		ns[p.Ordinal] = p
	}
	return nil
}

func (m *MockVectorIndex) Query(ctx context.Context, namespace string, vector []float32, k int) ([]domain.ScoredPassage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failQuery {
		return nil, domain.ErrRetrieval
	}

	ns := m.namespaces[namespace]
	results := make([]domain.ScoredPassage, 0, len(ns))
	for _, p := range ns {
		results = append(results, domain.ScoredPassage{
			EmbeddedPassage: p,
			Score:           cosine(vector, p.Vector),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Ordinal < results[j].Ordinal
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MockVectorIndex) Count(ctx context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespace]), nil
}

func (m *MockVectorIndex) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MockVectorIndex) Close() error {
	return nil
}

// Helper methods for testing

func (m *MockVectorIndex) SetFailUpsert(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpsert = fail
}

func (m *MockVectorIndex) SetFailQuery(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failQuery = fail
}

// UpsertCalls returns how many times Upsert was invoked
func (m *MockVectorIndex) UpsertCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upsertCalls
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
