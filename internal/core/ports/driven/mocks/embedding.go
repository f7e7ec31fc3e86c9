package mocks

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Ensure MockEmbeddingService implements EmbeddingService
var _ driven.EmbeddingService = (*MockEmbeddingService)(nil)

// MockEmbeddingService is a mock implementation of EmbeddingService for testing.
// Embeddings are derived from an fnv hash of the normalized text.
type MockEmbeddingService struct {
	mu         sync.Mutex
	dimensions int
	model      string
	failNext   bool
	calls      int
}

// NewMockEmbeddingService creates a new MockEmbeddingService
func NewMockEmbeddingService() *MockEmbeddingService {
	return &MockEmbeddingService{
		dimensions: 384,
		model:      "mock-embedding-model",
	}
}

func (m *MockEmbeddingService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.beginCall(); err != nil {
		return nil, err
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		normalized := strings.Join(strings.Fields(text), " ")
		if normalized == "" {
			return nil, fmt.Errorf("%w: empty input at %d", domain.ErrEmbedding, i)
		}
		result[i] = m.generateEmbedding(normalized)
	}
	return result, nil
}

func (m *MockEmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := m.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *MockEmbeddingService) Dimensions() int {
	return m.dimensions
}

func (m *MockEmbeddingService) Model() string {
	return m.model
}

func (m *MockEmbeddingService) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MockEmbeddingService) Close() error {
	return nil
}

func (m *MockEmbeddingService) beginCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("%w: %w", domain.ErrEmbedding, context.DeadlineExceeded)
	}
	return nil
}

// generateEmbedding generates a deterministic embedding based on text hash
func (m *MockEmbeddingService) generateEmbedding(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		seed = seed*1103515245 + 12345
		embedding[i] = float32(seed%1000) / 1000.0
	}
	return embedding
}

// Helper methods for testing

func (m *MockEmbeddingService) SetFailNext(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = fail
}

func (m *MockEmbeddingService) SetDimensions(dim int) {
	m.dimensions = dim
}

// Calls returns how many Embed/EmbedQuery calls were made
func (m *MockEmbeddingService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
