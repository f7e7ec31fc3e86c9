package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

// DocumentStore handles document metadata persistence (PostgreSQL)
type DocumentStore interface {
	// Save creates or updates a document
	Save(ctx context.Context, doc *domain.Document) error

	// UpdateStatus writes the status fields of doc (status, error, passage
	// count, updated at) only while the stored row still has status prev and
	// updated at prevUpdatedAt. Otherwise nothing is written and the error
	// wraps domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, doc *domain.Document, prev domain.IngestionStatus, prevUpdatedAt time.Time) error

	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// ListByOwner retrieves an owner's documents, newest first
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Document, error)

	// ListStuck retrieves documents that have been PROCESSING since before olderThan
	ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.Document, error)
}

// ConversationStore is the append-only message log per document
type ConversationStore interface {
	// Append stores a message, assigning its ID and CreatedAt.
	// Concurrent appends to the same document never conflict.
	Append(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	// RecentHistory returns the limit most recent messages of a document,
	// oldest first
	RecentHistory(ctx context.Context, documentID string, limit int) ([]*domain.Message, error)

	// List pages through a document's messages newest first.
	// before is a message ID cursor; empty starts from the latest message.
	List(ctx context.Context, documentID string, limit int, before string) ([]*domain.Message, error)

	// Count returns the number of messages stored for a document
	Count(ctx context.Context, documentID string) (int, error)
}
