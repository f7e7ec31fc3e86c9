package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*Index)(nil)

const (
	fieldDocumentID = "document_id"
	fieldOrdinal    = "ordinal"
	fieldPage       = "page"
	fieldText       = "text"

	defaultCollection     = "docchat_passages"
	defaultMaxMessageSize = 32 << 20
)

// pointNamespace seeds deterministic point IDs so re-ingesting an ordinal
// overwrites the earlier point.
var pointNamespace = uuid.MustParse("6f0c5d8e-3a52-4c1e-9b57-2f8d0e7a4c61")

// Index implements driven.VectorIndex on a single Qdrant collection.
// Namespaces are a keyword payload field filtered on every query.
type Index struct {
	client     *qdrant.Client
	collection string
	logger     *zap.Logger

	mu    sync.Mutex
	ready bool
}

// Config holds Index options.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string

	// MaxMessageSize bounds gRPC messages both ways. Default 32 MiB.
	MaxMessageSize int

	Logger *zap.Logger
}

// New connects to Qdrant. The collection is created on first write, sized
// to the vectors it receives.
func New(cfg Config) (*Index, error) {
	if cfg.Host == "" {
		return nil, errors.New("qdrant host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if !cfg.UseTLS {
		log.Warn("qdrant gRPC uses plaintext", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: %w", domain.ErrServiceUnavailable, err)
	}

	return &Index{client: client, collection: cfg.Collection, logger: log}, nil
}

// pointID derives the stable point ID of a passage
func pointID(namespace string, ordinal int) string {
	return uuid.NewSHA1(pointNamespace, []byte(namespace+"/"+strconv.Itoa(ordinal))).String()
}

func namespaceFilter(namespace string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: fieldDocumentID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: namespace},
					},
				},
			},
		}},
	}
}

// ensureCollection creates the collection and its namespace index once.
func (i *Index) ensureCollection(ctx context.Context, dims int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ready {
		return nil
	}

	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", i.collection, err)
	}
	if !exists {
		err := i.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: i.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", i.collection, err)
		}

		_, err = i.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: i.collection,
			FieldName:      fieldDocumentID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", fieldDocumentID, err)
		}

		i.logger.Info("created qdrant collection",
			zap.String("collection", i.collection),
			zap.Int("dimensions", dims),
		)
	}

	i.ready = true
	return nil
}

// toPoints converts passages into Qdrant points keyed by pointID
func toPoints(namespace string, passages []domain.EmbeddedPassage) ([]*qdrant.PointStruct, error) {
	points := make([]*qdrant.PointStruct, len(passages))
	for n, p := range passages {
		if len(p.Vector) == 0 {
			return nil, fmt.Errorf("passage %d has no vector", p.Ordinal)
		}
		points[n] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(namespace, p.Ordinal)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: map[string]*qdrant.Value{
				fieldDocumentID: {Kind: &qdrant.Value_StringValue{StringValue: namespace}},
				fieldOrdinal:    {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.Ordinal)}},
				fieldPage:       {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.Page)}},
				fieldText:       {Kind: &qdrant.Value_StringValue{StringValue: p.Text}},
			},
		}
	}
	return points, nil
}

// staleFilter selects the points of namespace outside keep
func staleFilter(namespace string, keep []*qdrant.PointStruct) *qdrant.Filter {
	f := namespaceFilter(namespace)
	if len(keep) == 0 {
		return f
	}

	ids := make([]*qdrant.PointId, len(keep))
	for n, p := range keep {
		ids[n] = p.GetId()
	}
	f.MustNot = []*qdrant.Condition{{
		ConditionOneOf: &qdrant.Condition_HasId{
			HasId: &qdrant.HasIdCondition{HasId: ids},
		},
	}}
	return f
}

// Upsert writes all passages in one request, then deletes the points of
// namespace that were not written. Both requests wait to be applied.
func (i *Index) Upsert(ctx context.Context, namespace string, passages []domain.EmbeddedPassage) error {
	points, err := toPoints(namespace, passages)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexWrite, err)
	}

	if len(points) > 0 {
		if err := i.ensureCollection(ctx, len(passages[0].Vector)); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrIndexWrite, err)
		}
		_, err = i.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: i.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrIndexWrite, err)
		}
	} else {
		exists, err := i.client.CollectionExists(ctx, i.collection)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrIndexWrite, err)
		}
		if !exists {
			return nil
		}
	}

	_, err = i.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: i.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: staleFilter(namespace, points)},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: remove stale passages: %w", domain.ErrIndexWrite, err)
	}
	return nil
}

// Query returns at most k passages from namespace by descending similarity
func (i *Index) Query(ctx context.Context, namespace string, vector []float32, k int) ([]domain.ScoredPassage, error) {
	if k <= 0 {
		return []domain.ScoredPassage{}, nil
	}

	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	if !exists {
		return []domain.ScoredPassage{}, nil
	}

	points, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         namespaceFilter(namespace),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}

	return fromPoints(namespace, points), nil
}

func fromPoints(namespace string, points []*qdrant.ScoredPoint) []domain.ScoredPassage {
	passages := make([]domain.ScoredPassage, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		passages = append(passages, domain.ScoredPassage{
			EmbeddedPassage: domain.EmbeddedPassage{
				DocumentID: namespace,
				Text:       payload[fieldText].GetStringValue(),
				Ordinal:    int(payload[fieldOrdinal].GetIntegerValue()),
				Page:       int(payload[fieldPage].GetIntegerValue()),
			},
			Score: p.GetScore(),
		})
	}
	return passages
}

// Count returns the exact number of points in namespace
func (i *Index) Count(ctx context.Context, namespace string) (int, error) {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	if !exists {
		return 0, nil
	}

	n, err := i.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: i.collection,
		Filter:         namespaceFilter(namespace),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return int(n), nil
}

// HealthCheck verifies Qdrant answers
func (i *Index) HealthCheck(ctx context.Context) error {
	if _, err := i.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: qdrant: %w", domain.ErrServiceUnavailable, err)
	}
	return nil
}

// Close closes the gRPC connection
func (i *Index) Close() error {
	return i.client.Close()
}
