package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*VectorIndex)(nil)

// VectorIndex implements driven.VectorIndex on the pgvector passages table.
// The namespace is the document_id column; similarity is 1 - cosine distance.
type VectorIndex struct {
	db *DB
}

// NewVectorIndex creates a new pgvector-backed index.
// The vector schema must have been applied with InitVectorSchema.
func NewVectorIndex(db *DB) *VectorIndex {
	return &VectorIndex{db: db}
}

// Upsert replaces the namespace rows in one transaction
func (v *VectorIndex) Upsert(ctx context.Context, namespace string, passages []domain.EmbeddedPassage) error {
	ordinals := make([]int64, len(passages))
	for n, p := range passages {
		ordinals[n] = int64(p.Ordinal)
	}

	err := v.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM passages WHERE document_id = $1 AND ordinal <> ALL($2)`,
			namespace, pq.Array(ordinals),
		); err != nil {
			return fmt.Errorf("remove stale passages: %w", err)
		}
		if len(passages) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO passages (document_id, ordinal, page, text, embedding, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (document_id, ordinal) DO UPDATE SET
				page = EXCLUDED.page,
				text = EXCLUDED.text,
				embedding = EXCLUDED.embedding,
				updated_at = EXCLUDED.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range passages {
			if len(p.Vector) == 0 {
				return fmt.Errorf("passage %d has no vector", p.Ordinal)
			}
			if _, err := stmt.ExecContext(ctx, namespace, p.Ordinal, p.Page, p.Text, pgvector.NewVector(p.Vector)); err != nil {
				return fmt.Errorf("passage %d: %w", p.Ordinal, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexWrite, err)
	}
	return nil
}

// Query returns the k passages nearest to vector by cosine distance
func (v *VectorIndex) Query(ctx context.Context, namespace string, vector []float32, k int) ([]domain.ScoredPassage, error) {
	if k <= 0 {
		return []domain.ScoredPassage{}, nil
	}

	query := `
		SELECT ordinal, page, text, 1 - (embedding <=> $2) AS score
		FROM passages
		WHERE document_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`

	rows, err := v.db.QueryContext(ctx, query, namespace, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	defer rows.Close()

	results := []domain.ScoredPassage{}
	for rows.Next() {
		sp := domain.ScoredPassage{EmbeddedPassage: domain.EmbeddedPassage{DocumentID: namespace}}
		var score float64
		if err := rows.Scan(&sp.Ordinal, &sp.Page, &sp.Text, &score); err != nil {
			return nil, fmt.Errorf("%w: scan passage: %w", domain.ErrRetrieval, err)
		}
		sp.Score = float32(score)
		results = append(results, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	return results, nil
}

// Count returns the number of passages stored in namespace
func (v *VectorIndex) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages WHERE document_id = $1`, namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}

// HealthCheck verifies the database is reachable
func (v *VectorIndex) HealthCheck(ctx context.Context) error {
	if err := v.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
	}
	return nil
}

// Close is a no-op; the DB is owned by the caller
func (v *VectorIndex) Close() error {
	return nil
}
