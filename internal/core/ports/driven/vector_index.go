package driven

import (
	"context"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

// VectorIndex stores embedded passages in one namespace per document.
// The similarity metric is cosine for the lifetime of an index.
type VectorIndex interface {
	// Upsert makes passages the contents of namespace. Ordinals already
	// stored are overwritten and ordinals absent from passages are removed,
	// so an empty slice clears the namespace. Fails with domain.ErrIndexWrite.
	Upsert(ctx context.Context, namespace string, passages []domain.EmbeddedPassage) error

	// Query returns at most k passages from namespace by descending similarity.
	// An unknown or empty namespace yields an empty slice and no error.
	Query(ctx context.Context, namespace string, vector []float32, k int) ([]domain.ScoredPassage, error)

	// Count returns the number of passages stored in namespace
	Count(ctx context.Context, namespace string) (int, error)

	// HealthCheck verifies the backend is reachable
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the index
	Close() error
}
