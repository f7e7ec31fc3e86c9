package driving

import (
	"context"
	"io"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

// AcceptRequest registers an uploaded file for ingestion
type AcceptRequest struct {
	OwnerID   string `json:"-"`
	SourceKey string `json:"source_key"`
	Name      string `json:"name"`
}

// IngestionResult summarises one ingestion run
type IngestionResult struct {
	DocumentID string                 `json:"document_id"`
	Status     domain.IngestionStatus `json:"status"`
	Passages   int                    `json:"passages"`
	Error      string                 `json:"error,omitempty"`
}

// IngestionService turns uploaded PDFs into searchable vector namespaces
type IngestionService interface {
	// Accept creates the document record in PROCESSING and schedules ingestion
	Accept(ctx context.Context, req AcceptRequest) (*domain.Document, error)

	// Ingest runs ingestion for a PROCESSING document to a terminal status.
	// Ingestion failures are recorded on the document and reported in the
	// result; the error is reserved for metadata store failures.
	Ingest(ctx context.Context, documentID string) (*IngestionResult, error)

	// Reingest moves a finished document back to PROCESSING and schedules it
	Reingest(ctx context.Context, documentID, ownerID string) (*domain.Document, error)
}

// AnswerStream is a lazy, finite, non-restartable sequence of answer chunks.
// Recv returns io.EOF once the answer is complete and persisted. After a
// terminal error every call returns that same error.
type AnswerStream interface {
	Recv() (string, error)
	// Close aborts an unfinished answer without persisting it
	Close() error
}

// AnswerService answers questions about a document
type AnswerService interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (AnswerStream, error)
}

// DocumentService provides owner-scoped read access to documents and messages
type DocumentService interface {
	// Get retrieves a document owned by ownerID
	Get(ctx context.Context, id, ownerID string) (*domain.Document, error)

	// List retrieves an owner's documents
	List(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Document, error)

	// Messages pages through a document's conversation, newest first
	Messages(ctx context.Context, id, ownerID string, limit int, before string) ([]*domain.Message, error)
}

// Drain reads an answer stream to completion, returning the full text
func Drain(s AnswerStream) (string, error) {
	var out []byte
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, chunk...)
	}
}
