package driven

import (
	"context"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

// FileStorage fetches uploaded source files by key
type FileStorage interface {
	// Fetch returns the full contents of the file stored under key.
	// Fails with domain.ErrStorage, or domain.ErrNotFound for unknown keys.
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// PDFParser extracts the text of each page of a PDF, in page order.
// Pages without extractable text are returned as empty strings.
type PDFParser interface {
	ExtractPages(ctx context.Context, data []byte) ([]string, error)
}

// PassageSplitter turns extracted pages into passages with dense ordinals.
// The result depends only on its input.
type PassageSplitter interface {
	Split(documentID string, pages []string) []domain.Passage
}
