package driven

import (
	"context"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

// EventPublisher broadcasts document status changes.
// Publishing is best effort; callers log and continue on error.
type EventPublisher interface {
	PublishDocumentStatus(ctx context.Context, event domain.DocumentStatusEvent) error
	Close() error
}
