package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
	"github.com/custodia-labs/docchat/internal/core/ports/driving"
	"github.com/custodia-labs/docchat/internal/logger"
	"github.com/custodia-labs/docchat/internal/metrics"
)

// Ensure AnswerPipeline implements AnswerService
var _ driving.AnswerService = (*AnswerPipeline)(nil)

const (
	defaultTopK         = 4
	defaultHistoryLimit = 6
)

// AnswerPipeline answers a question about a document:
//  1. Persist the question as a user message
//  2. Embed the question and query the document namespace, while
//     concurrently loading the recent conversation
//  3. Compose the prompt
//  4. Stream the model answer, persisting it once complete
type AnswerPipeline struct {
	documents     driven.DocumentStore
	conversations driven.ConversationStore
	embedder      driven.EmbeddingService
	index         driven.VectorIndex
	model         driven.ChatModel
	logger        *zap.Logger

	topK         int
	historyLimit int
	temperature  float32
}

// AnswerPipelineConfig holds dependencies for AnswerPipeline.
type AnswerPipelineConfig struct {
	Documents     driven.DocumentStore
	Conversations driven.ConversationStore
	Embedder      driven.EmbeddingService
	Index         driven.VectorIndex
	Model         driven.ChatModel
	Logger        *zap.Logger

	TopK         int     // passages per question, default 4
	HistoryLimit int     // prior messages per question, default 6
	Temperature  float32 // default 0
}

// NewAnswerPipeline creates a new answer pipeline.
func NewAnswerPipeline(cfg AnswerPipelineConfig) *AnswerPipeline {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	return &AnswerPipeline{
		documents:     cfg.Documents,
		conversations: cfg.Conversations,
		embedder:      cfg.Embedder,
		index:         cfg.Index,
		model:         cfg.Model,
		logger:        log,
		topK:          topK,
		historyLimit:  historyLimit,
		temperature:   cfg.Temperature,
	}
}

// Answer validates ownership, records the question and opens the answer
// stream. Authorization and lookup failures happen before any write.
func (p *AnswerPipeline) Answer(ctx context.Context, req domain.AnswerRequest) (driving.AnswerStream, error) {
	if req.OwnerID == "" {
		return nil, domain.ErrUnauthorized
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: message and document_id are required", err)
	}

	doc, err := p.documents.Get(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if !doc.OwnedBy(req.OwnerID) {
		return nil, domain.ErrForbidden
	}

	log := logger.FromContext(ctx, p.logger).With(zap.String("document_id", doc.ID))

	// Step 1: the question is kept even if everything after fails
	question, err := p.conversations.Append(ctx, &domain.Message{
		DocumentID: doc.ID,
		OwnerID:    req.OwnerID,
		Text:       req.Question,
		Role:       domain.RoleUser,
	})
	if err != nil {
		return nil, fmt.Errorf("persist question: %w", err)
	}

	// Step 2: retrieval and history have no ordering dependency
	passages, history, err := p.gather(ctx, doc.ID, question)
	if err != nil {
		metrics.AnswersTotal.WithLabelValues("retrieval_failed").Inc()
		log.Warn("retrieval failed", zap.Error(err))
		return nil, err
	}
	metrics.RetrievedPassages.Observe(float64(len(passages)))

	// Step 3: compose
	messages := ComposePrompt(history, passages, req.Question)

	// Step 4: generate
	upstream, err := p.model.StreamChat(ctx, domain.ChatRequest{
		Messages:    messages,
		Temperature: p.temperature,
	})
	if err != nil {
		metrics.AnswersTotal.WithLabelValues("generation_failed").Inc()
		log.Warn("failed to open answer stream", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}

	log.Debug("answer stream opened",
		zap.Int("passages", len(passages)),
		zap.Int("history", len(history)),
	)

	return newAnswerStream(ctx, upstream, p.conversations, doc.ID, req.OwnerID, log), nil
}

// gather embeds and queries the question while loading prior turns.
// The question itself is left out of the history.
func (p *AnswerPipeline) gather(ctx context.Context, documentID string, question *domain.Message) ([]domain.ScoredPassage, []*domain.Message, error) {
	var (
		passages []domain.ScoredPassage
		history  []*domain.Message
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vector, err := p.embedder.EmbedQuery(gctx, question.Text)
		if err != nil {
			return fmt.Errorf("%w: embed question: %w", domain.ErrRetrieval, err)
		}
		found, err := p.index.Query(gctx, documentID, vector, p.topK)
		if err != nil {
			if errors.Is(err, domain.ErrRetrieval) {
				return err
			}
			return fmt.Errorf("%w: query index: %w", domain.ErrRetrieval, err)
		}
		passages = found
		return nil
	})

	g.Go(func() error {
		recent, err := p.conversations.RecentHistory(gctx, documentID, p.historyLimit+1)
		if err != nil {
			return fmt.Errorf("%w: load history: %w", domain.ErrRetrieval, err)
		}
		history = priorTurns(recent, question.ID, p.historyLimit)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return passages, history, nil
}

// priorTurns drops the current question and keeps the last limit messages.
func priorTurns(recent []*domain.Message, questionID string, limit int) []*domain.Message {
	out := make([]*domain.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID != questionID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
