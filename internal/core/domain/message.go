package domain

import (
	"strings"
	"time"
)

// Role attributes a message to one side of the conversation
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system" // prompt only, never persisted
)

// Message is one turn of the conversation about a document. Messages are
// append-only; CreatedAt then Seq give the total order per document.
type Message struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"`
	Text       string    `json:"text"`
	Role       Role      `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	Seq        int64     `json:"-"`
}

// IsUserMessage reports whether the message was written by the user
func (m *Message) IsUserMessage() bool {
	return m.Role == RoleUser
}

// ChatMessage is a single entry of a language model conversation
type ChatMessage struct {
	Role    Role
	Content string
}

// ChatRequest is a streaming generation request
type ChatRequest struct {
	Messages    []ChatMessage
	Temperature float32
}

// AnswerRequest asks a question about one document on behalf of its owner
type AnswerRequest struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"-"`
	Question   string `json:"message"`
}

// Validate checks the request carries a question
func (r AnswerRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return ErrInvalidInput
	}
	if r.DocumentID == "" {
		return ErrInvalidInput
	}
	return nil
}
