package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
	"github.com/custodia-labs/docchat/internal/metrics"
)

// Ensure OpenAIEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*OpenAIEmbedding)(nil)

// Model dimensions for OpenAI embedding models
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedding implements EmbeddingService using OpenAI's embedding API
type OpenAIEmbedding struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	shorten    bool // send dimensions with the request
	timeout    time.Duration
	logger     *zap.Logger
}

func newOpenAIEmbedding(client *openai.Client, cfg Config) *OpenAIEmbedding {
	native, known := openAIModelDimensions[cfg.EmbeddingModel]
	if !known {
		// Default to 1536 for unknown models
		native = 1536
	}

	dimensions := native
	shorten := false
	// only the text-embedding-3 family accepts a reduced size
	if cfg.Dimensions > 0 && cfg.Dimensions != native && strings.HasPrefix(cfg.EmbeddingModel, "text-embedding-3") {
		dimensions = cfg.Dimensions
		shorten = true
	} else if cfg.Dimensions > 0 && !known {
		dimensions = cfg.Dimensions
	}

	return &OpenAIEmbedding{
		client:     client,
		model:      openai.EmbeddingModel(cfg.EmbeddingModel),
		dimensions: dimensions,
		shorten:    shorten,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
}

// Embed generates one embedding per text, in input order. Runs of
// whitespace are collapsed to a single space before sending.
func (e *OpenAIEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input := make([]string, len(texts))
	for i, text := range texts {
		input[i] = strings.Join(strings.Fields(text), " ")
		if input[i] == "" {
			return nil, fmt.Errorf("%w: empty input at %d", domain.ErrEmbedding, i)
		}
	}

	req := openai.EmbeddingRequest{
		Input:          input,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.shorten {
		req.Dimensions = e.dimensions
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	model := string(e.model)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(model, "error").Inc()
		e.logger.Warn("embedding request failed", zap.Int("inputs", len(texts)), zap.Error(err))
		return nil, parseAPIError(err)
	}

	// Place by index to ensure order matches input
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			continue
		}
		embeddings[d.Index] = d.Embedding
	}
	for i, vec := range embeddings {
		if len(vec) != e.dimensions {
			metrics.EmbeddingRequestsTotal.WithLabelValues(model, "error").Inc()
			return nil, fmt.Errorf("%w: input %d has %d dimensions, expected %d",
				domain.ErrEmbedding, i, len(vec), e.dimensions)
		}
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(model).Add(float64(resp.Usage.TotalTokens))
	}

	return embeddings, nil
}

// EmbedQuery generates an embedding for a question
func (e *OpenAIEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Dimensions returns the embedding dimension size
func (e *OpenAIEmbedding) Dimensions() int {
	return e.dimensions
}

// Model returns the model name being used
func (e *OpenAIEmbedding) Model() string {
	return string(e.model)
}

// HealthCheck verifies API availability via ListModels, which costs no tokens
func (e *OpenAIEmbedding) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%w: list models: %w", domain.ErrServiceUnavailable, err)
	}
	return nil
}

// Close releases resources held by the embedding service
func (e *OpenAIEmbedding) Close() error {
	return nil
}

// parseAPIError extracts a readable message from an API failure and wraps
// it with domain.ErrEmbedding.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbedding

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: API error %d: %s", wrap, apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("%w: API error %d: %s", wrap, reqErr.HTTPStatusCode, detail)
		}
		return fmt.Errorf("%w: %w", wrap, reqErr)
	}

	return fmt.Errorf("%w: %w", wrap, err)
}

// extractDetail reads the "detail" field used by OpenAI-compatible gateways
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Detail
	}
	return ""
}
