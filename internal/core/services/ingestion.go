package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
	"github.com/custodia-labs/docchat/internal/core/ports/driving"
	"github.com/custodia-labs/docchat/internal/logger"
	"github.com/custodia-labs/docchat/internal/metrics"
)

// Ensure IngestionPipeline implements IngestionService
var _ driving.IngestionService = (*IngestionPipeline)(nil)

const (
	defaultEmbedBatchSize = 64
	defaultMaxFileBytes   = 4 << 20
	statusWriteTimeout    = 10 * time.Second
)

// IngestionPipeline turns an uploaded PDF into the vector namespace of its document.
// It implements the ingestion flow:
//  1. Fetch the source bytes
//  2. Extract page text
//  3. Split pages into passages
//  4. Embed passages in batches
//  5. Upsert the embedded passages under the document ID
//
// Every run ends in SUCCESS or FAILED. Failures are recorded on the
// document and never retried automatically.
type IngestionPipeline struct {
	documents driven.DocumentStore
	storage   driven.FileStorage
	parser    driven.PDFParser
	splitter  driven.PassageSplitter
	embedder  driven.EmbeddingService
	index     driven.VectorIndex
	queue     driven.TaskQueue
	events    driven.EventPublisher
	logger    *zap.Logger

	embedBatchSize int
	maxFileBytes   int

	detached sync.WaitGroup
}

// IngestionPipelineConfig holds dependencies for IngestionPipeline.
type IngestionPipelineConfig struct {
	Documents driven.DocumentStore
	Storage   driven.FileStorage
	Parser    driven.PDFParser
	Splitter  driven.PassageSplitter
	Embedder  driven.EmbeddingService
	Index     driven.VectorIndex

	// Queue receives ingestion tasks. When nil, Accept ingests on a
	// detached goroutine instead.
	Queue driven.TaskQueue

	// Events is optional
	Events driven.EventPublisher
	Logger *zap.Logger

	EmbedBatchSize int // passages per embedding request, default 64
	MaxFileBytes   int // largest accepted source file, default 4 MiB
}

// NewIngestionPipeline creates a new ingestion pipeline.
func NewIngestionPipeline(cfg IngestionPipelineConfig) *IngestionPipeline {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	batch := cfg.EmbedBatchSize
	if batch <= 0 {
		batch = defaultEmbedBatchSize
	}

	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}

	return &IngestionPipeline{
		documents:      cfg.Documents,
		storage:        cfg.Storage,
		parser:         cfg.Parser,
		splitter:       cfg.Splitter,
		embedder:       cfg.Embedder,
		index:          cfg.Index,
		queue:          cfg.Queue,
		events:         cfg.Events,
		logger:         log,
		embedBatchSize: batch,
		maxFileBytes:   maxBytes,
	}
}

// Accept registers an uploaded file. The document is persisted already in
// PROCESSING so a crash before ingestion finishes stays observable.
func (p *IngestionPipeline) Accept(ctx context.Context, req driving.AcceptRequest) (*domain.Document, error) {
	if req.OwnerID == "" {
		return nil, domain.ErrUnauthorized
	}
	if strings.TrimSpace(req.SourceKey) == "" {
		return nil, fmt.Errorf("%w: source_key is required", domain.ErrInvalidInput)
	}

	name := req.Name
	if name == "" {
		name = req.SourceKey
	}

	doc := domain.NewDocument(req.OwnerID, req.SourceKey, name)
	if err := doc.Transition(domain.IngestionProcessing); err != nil {
		return nil, err
	}
	if err := p.documents.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	p.publish(ctx, doc)

	p.logger.Info("document accepted",
		zap.String("document_id", doc.ID),
		zap.String("owner_id", doc.OwnerID),
		zap.String("source_key", doc.SourceKey),
	)

	if err := p.schedule(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Reingest moves a finished document back to PROCESSING and schedules it.
// The new run replaces the whole namespace, so passages from the previous
// version never survive it.
func (p *IngestionPipeline) Reingest(ctx context.Context, documentID, ownerID string) (*domain.Document, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}

	doc, err := p.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.OwnedBy(ownerID) {
		return nil, domain.ErrForbidden
	}
	prev, prevUpdatedAt := doc.Status, doc.UpdatedAt
	if err := doc.Transition(domain.IngestionProcessing); err != nil {
		return nil, err
	}
	if err := p.documents.UpdateStatus(ctx, doc, prev, prevUpdatedAt); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	p.publish(ctx, doc)

	p.logger.Info("document re-ingest requested", zap.String("document_id", doc.ID))

	if err := p.schedule(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// schedule hands the document to the queue, or to a detached goroutine
// when no queue is configured. A failed hand-off fails the document.
func (p *IngestionPipeline) schedule(ctx context.Context, doc *domain.Document) error {
	if p.queue == nil {
		p.detached.Add(1)
		go func() {
			defer p.detached.Done()
			bg := context.WithoutCancel(ctx)
			if _, err := p.Ingest(bg, doc.ID); err != nil {
				p.logger.Error("detached ingestion failed",
					zap.String("document_id", doc.ID),
					zap.Error(err),
				)
			}
		}()
		return nil
	}

	if err := p.queue.Enqueue(ctx, domain.NewIngestDocumentTask(doc.OwnerID, doc.ID)); err != nil {
		p.finish(ctx, doc, 0, fmt.Errorf("enqueue ingestion: %w", err), time.Now())
		return fmt.Errorf("enqueue ingestion: %w", err)
	}
	return nil
}

// Wait blocks until detached ingestions started by Accept have finished.
func (p *IngestionPipeline) Wait() {
	p.detached.Wait()
}

// Ingest runs the pipeline for a document in PROCESSING.
func (p *IngestionPipeline) Ingest(ctx context.Context, documentID string) (*driving.IngestionResult, error) {
	startTime := time.Now()
	log := logger.FromContext(ctx, p.logger).With(zap.String("document_id", documentID))

	doc, err := p.documents.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc.Status != domain.IngestionProcessing {
		return nil, fmt.Errorf("%w: document is %s, not %s",
			domain.ErrInvalidTransition, doc.Status, domain.IngestionProcessing)
	}

	log.Info("starting ingestion", zap.String("source_key", doc.SourceKey))

	count, ingestErr := p.run(ctx, doc)
	if err := p.finish(ctx, doc, count, ingestErr, startTime); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Warn("ingestion superseded, result discarded", zap.Error(err))
		}
		return nil, err
	}

	result := &driving.IngestionResult{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Passages:   doc.PassageCount,
		Error:      doc.Error,
	}

	if ingestErr != nil {
		log.Warn("ingestion failed",
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(ingestErr),
		)
	} else {
		log.Info("ingestion completed",
			zap.Int("passages", count),
			zap.Duration("duration", time.Since(startTime)),
		)
	}
	return result, nil
}

// run executes steps 1-5 and returns the number of passages written.
func (p *IngestionPipeline) run(ctx context.Context, doc *domain.Document) (int, error) {
	// Step 1: Fetch source bytes
	data, err := p.storage.Fetch(ctx, doc.SourceKey)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch source: %w", domain.ErrIngestion, err)
	}
	if len(data) > p.maxFileBytes {
		return 0, fmt.Errorf("%w: source is %d bytes, limit is %d", domain.ErrIngestion, len(data), p.maxFileBytes)
	}

	// Step 2: Extract page text
	pages, err := p.parser.ExtractPages(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("%w: parse pdf: %w", domain.ErrIngestion, err)
	}

	// Step 3: Split into passages
	passages := p.splitter.Split(doc.ID, pages)
	if len(passages) == 0 {
		return 0, fmt.Errorf("%w: document contains no extractable text", domain.ErrIngestion)
	}

	// Step 4: Embed in batches, pairing each vector with its own passage
	embedded := make([]domain.EmbeddedPassage, 0, len(passages))
	for start := 0; start < len(passages); start += p.embedBatchSize {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %w", domain.ErrIngestion, err)
		}

		end := min(start+p.embedBatchSize, len(passages))
		batch := passages[start:end]
		texts := make([]string, len(batch))
		for i, ps := range batch {
			texts[i] = ps.Text
		}

		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("%w: embed passages %d-%d: %w", domain.ErrIngestion, start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return 0, fmt.Errorf("%w: embedder returned %d vectors for %d passages",
				domain.ErrIngestion, len(vectors), len(batch))
		}
		for i, ps := range batch {
			embedded = append(embedded, ps.Embed(vectors[i]))
		}
	}

	// Step 5: Write the namespace
	if err := p.index.Upsert(ctx, doc.ID, embedded); err != nil {
		return 0, fmt.Errorf("%w: upsert passages: %w", domain.ErrIngestion, err)
	}

	return len(embedded), nil
}

// finish moves the document to its terminal status and persists it. The
// write ignores cancellation of ctx so a shutdown mid-ingestion still
// records FAILED instead of leaving PROCESSING behind. It fails with
// ErrInvalidTransition when the stored document changed after doc was
// read, e.g. the janitor failed it and a re-ingest started over.
func (p *IngestionPipeline) finish(ctx context.Context, doc *domain.Document, count int, ingestErr error, startTime time.Time) error {
	prev, prevUpdatedAt := doc.Status, doc.UpdatedAt

	var err error
	if ingestErr != nil {
		err = doc.MarkFailed(ingestErr.Error())
	} else {
		err = doc.MarkSucceeded(count)
	}
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err := p.documents.UpdateStatus(writeCtx, doc, prev, prevUpdatedAt); err != nil {
		return fmt.Errorf("save %s status: %w", doc.Status, err)
	}

	metrics.IngestionsTotal.WithLabelValues(string(doc.Status)).Inc()
	metrics.IngestionDuration.Observe(time.Since(startTime).Seconds())
	if doc.Status == domain.IngestionSuccess {
		metrics.IngestedPassages.Observe(float64(count))
	}

	p.publish(writeCtx, doc)
	return nil
}

// FailStuck marks documents that have sat in PROCESSING since before
// olderThan as FAILED so they become eligible for re-ingestion.
func (p *IngestionPipeline) FailStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	stuck, err := p.documents.ListStuck(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list stuck documents: %w", err)
	}

	failed := 0
	for _, doc := range stuck {
		reason := fmt.Errorf("%w: no terminal status after %s", domain.ErrIngestion, olderThan)
		if err := p.finish(ctx, doc, 0, reason, doc.UpdatedAt); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return failed, err
		}
		p.logger.Warn("failed stuck document", zap.String("document_id", doc.ID))
		failed++
	}
	return failed, nil
}

func (p *IngestionPipeline) publish(ctx context.Context, doc *domain.Document) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishDocumentStatus(ctx, doc.StatusEvent()); err != nil {
		p.logger.Warn("failed to publish status event",
			zap.String("document_id", doc.ID),
			zap.String("status", string(doc.Status)),
			zap.Error(err),
		)
	}
}
