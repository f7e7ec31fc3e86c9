package chromem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*Index)(nil)

const (
	metaPage    = "page"
	metaOrdinal = "ordinal"
)

// errNoEmbedder guards against chromem computing embeddings itself.
// Passages always arrive with vectors and queries use QueryEmbedding.
var errNoEmbedder = errors.New("chromem index does not embed text")

// Index implements driven.VectorIndex on an embedded chromem-go database,
// one collection per document. chromem normalizes vectors on insert and
// ranks by cosine similarity.
type Index struct {
	db     *chromem.DB
	logger *zap.Logger
}

// Config holds Index options.
type Config struct {
	// Path is the persistence directory; empty keeps everything in memory.
	Path string

	// Compress gzips persisted collections.
	Compress bool

	Logger *zap.Logger
}

// New opens or creates the chromem database.
func New(cfg Config) (*Index, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if cfg.Path == "" {
		return &Index{db: chromem.NewDB(), logger: log}, nil
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, err
	}
	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db at %s: %w", path, err)
	}

	log.Info("opened chromem index", zap.String("path", path), zap.Int("collections", len(db.ListCollections())))
	return &Index{db: db, logger: log}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Clean(path), nil
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// Upsert replaces the namespace collection with passages. chromem cannot
// enumerate document IDs, so an existing collection is dropped and rebuilt.
func (i *Index) Upsert(ctx context.Context, namespace string, passages []domain.EmbeddedPassage) error {
	for _, p := range passages {
		if len(p.Vector) == 0 {
			return fmt.Errorf("%w: passage %d has no vector", domain.ErrIndexWrite, p.Ordinal)
		}
	}

	if i.db.GetCollection(namespace, refuseEmbedding) != nil {
		if err := i.db.DeleteCollection(namespace); err != nil {
			return fmt.Errorf("%w: drop collection %s: %w", domain.ErrIndexWrite, namespace, err)
		}
	}
	if len(passages) == 0 {
		return nil
	}

	collection, err := i.db.CreateCollection(namespace, nil, refuseEmbedding)
	if err != nil {
		return fmt.Errorf("%w: collection %s: %w", domain.ErrIndexWrite, namespace, err)
	}

	docs := make([]chromem.Document, len(passages))
	for n, p := range passages {
		docs[n] = chromem.Document{
			ID:        strconv.Itoa(p.Ordinal),
			Content:   p.Text,
			Embedding: p.Vector,
			Metadata: map[string]string{
				metaPage:    strconv.Itoa(p.Page),
				metaOrdinal: strconv.Itoa(p.Ordinal),
			},
		}
	}

	// Vectors are already computed, a single goroutine is enough
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexWrite, err)
	}

	i.logger.Debug("upserted passages",
		zap.String("namespace", namespace),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Query returns at most k passages by descending cosine similarity
func (i *Index) Query(ctx context.Context, namespace string, vector []float32, k int) ([]domain.ScoredPassage, error) {
	collection := i.db.GetCollection(namespace, refuseEmbedding)
	if collection == nil || k <= 0 {
		return []domain.ScoredPassage{}, nil
	}

	// chromem rejects nResults above the collection size
	if n := collection.Count(); n == 0 {
		return []domain.ScoredPassage{}, nil
	} else if k > n {
		k = n
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}

	passages := make([]domain.ScoredPassage, len(results))
	for n, r := range results {
		ordinal, _ := strconv.Atoi(r.Metadata[metaOrdinal])
		page, _ := strconv.Atoi(r.Metadata[metaPage])
		passages[n] = domain.ScoredPassage{
			EmbeddedPassage: domain.EmbeddedPassage{
				DocumentID: namespace,
				Text:       r.Content,
				Ordinal:    ordinal,
				Page:       page,
			},
			Score: r.Similarity,
		}
	}
	return passages, nil
}

// Count returns the number of passages stored in namespace
func (i *Index) Count(_ context.Context, namespace string) (int, error) {
	collection := i.db.GetCollection(namespace, refuseEmbedding)
	if collection == nil {
		return 0, nil
	}
	return collection.Count(), nil
}

// HealthCheck always succeeds; the database is in process
func (i *Index) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op; persistent collections are written on every change
func (i *Index) Close() error {
	return nil
}
