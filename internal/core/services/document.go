package services

import (
	"context"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
	"github.com/custodia-labs/docchat/internal/core/ports/driving"
)

// Ensure documentService implements DocumentService
var _ driving.DocumentService = (*documentService)(nil)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// documentService implements the DocumentService interface
type documentService struct {
	documentStore     driven.DocumentStore
	conversationStore driven.ConversationStore
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	documentStore driven.DocumentStore,
	conversationStore driven.ConversationStore,
) driving.DocumentService {
	return &documentService{
		documentStore:     documentStore,
		conversationStore: conversationStore,
	}
}

// Get retrieves a document owned by ownerID
func (s *documentService) Get(ctx context.Context, id, ownerID string) (*domain.Document, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}

	doc, err := s.documentStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.OwnedBy(ownerID) {
		return nil, domain.ErrForbidden
	}
	return doc, nil
}

// List retrieves an owner's documents
func (s *documentService) List(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Document, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}
	if offset < 0 {
		offset = 0
	}
	return s.documentStore.ListByOwner(ctx, ownerID, clampPageSize(limit), offset)
}

// Messages pages through a document's conversation, newest first
func (s *documentService) Messages(ctx context.Context, id, ownerID string, limit int, before string) ([]*domain.Message, error) {
	if _, err := s.Get(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return s.conversationStore.List(ctx, id, clampPageSize(limit), before)
}

func clampPageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
