package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

const documentColumns = `id, owner_id, source_key, name, status, error, passage_count, created_at, updated_at`

// DocumentStore implements driven.DocumentStore using PostgreSQL
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Save creates or updates a document
func (s *DocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			passage_count = EXCLUDED.passage_count,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		doc.ID,
		doc.OwnerID,
		doc.SourceKey,
		doc.Name,
		doc.Status,
		doc.Error,
		doc.PassageCount,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// UpdateStatus writes the status fields of doc if the stored row is still
// at (prev, prevUpdatedAt)
func (s *DocumentStore) UpdateStatus(ctx context.Context, doc *domain.Document, prev domain.IngestionStatus, prevUpdatedAt time.Time) error {
	query := `
		UPDATE documents
		SET status = $2, error = $3, passage_count = $4, updated_at = $5
		WHERE id = $1 AND status = $6 AND updated_at = $7
	`

	res, err := s.db.ExecContext(ctx, query,
		doc.ID,
		doc.Status,
		doc.Error,
		doc.PassageCount,
		doc.UpdatedAt,
		prev,
		prevUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: document %s is no longer %s", domain.ErrInvalidTransition, doc.ID, prev)
	}
	return nil
}

// Get retrieves a document by ID
func (s *DocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	var doc domain.Document
	err := scanDocument(s.db.QueryRowContext(ctx, query, id), &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// ListByOwner retrieves an owner's documents, newest first
func (s *DocumentStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ListStuck retrieves documents that have been PROCESSING since before olderThan
func (s *DocumentStore) ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
	`

	rows, err := s.db.QueryContext(ctx, query, domain.IngestionProcessing, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stuck documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, doc *domain.Document) error {
	return row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.SourceKey,
		&doc.Name,
		&doc.Status,
		&doc.Error,
		&doc.PassageCount,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
}

func scanDocuments(rows *sql.Rows) ([]*domain.Document, error) {
	var docs []*domain.Document
	for rows.Next() {
		var doc domain.Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
