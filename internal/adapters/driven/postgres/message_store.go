package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ConversationStore = (*MessageStore)(nil)

const messageColumns = `seq, id, document_id, owner_id, role, text, created_at`

// MessageStore implements driven.ConversationStore using PostgreSQL.
// The serial seq column orders messages; concurrent appends never conflict.
type MessageStore struct {
	db *DB
}

// NewMessageStore creates a new MessageStore
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append stores a message and returns it with ID, Seq and CreatedAt assigned
func (s *MessageStore) Append(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	stored := *msg
	stored.ID = uuid.NewString()

	query := `
		INSERT INTO messages (id, document_id, owner_id, role, text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		stored.ID,
		stored.DocumentID,
		stored.OwnerID,
		stored.Role,
		stored.Text,
	).Scan(&stored.Seq, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &stored, nil
}

// RecentHistory returns the limit most recent messages, oldest first
func (s *MessageStore) RecentHistory(ctx context.Context, documentID string, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE document_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// List pages through a document's messages newest first, starting below
// the message with ID before when given.
func (s *MessageStore) List(ctx context.Context, documentID string, limit int, before string) ([]*domain.Message, error) {
	// -1 means no cursor
	cursor := int64(-1)
	if before != "" {
		err := s.db.QueryRowContext(ctx,
			`SELECT seq FROM messages WHERE id = $1 AND document_id = $2`,
			before, documentID,
		).Scan(&cursor)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("resolve cursor: %w", err)
		}
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE document_id = $1 AND ($2 < 0 OR seq < $2)
		ORDER BY seq DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, documentID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Count returns the number of messages stored for a document
func (s *MessageStore) Count(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE document_id = $1`, documentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	var msgs []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.Seq, &m.ID, &m.DocumentID, &m.OwnerID, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
