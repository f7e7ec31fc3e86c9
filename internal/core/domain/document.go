package domain

import (
	"fmt"
	"time"
)

// IngestionStatus is the lifecycle state of a document's vector namespace
type IngestionStatus string

const (
	IngestionPending    IngestionStatus = "PENDING"
	IngestionProcessing IngestionStatus = "PROCESSING"
	IngestionSuccess    IngestionStatus = "SUCCESS"
	IngestionFailed     IngestionStatus = "FAILED"
)

// ingestionTransitions lists every legal status change.
// SUCCESS and FAILED may re-enter PROCESSING when an operator re-ingests.
var ingestionTransitions = map[IngestionStatus][]IngestionStatus{
	IngestionPending:    {IngestionProcessing},
	IngestionProcessing: {IngestionSuccess, IngestionFailed},
	IngestionSuccess:    {IngestionProcessing},
	IngestionFailed:     {IngestionProcessing},
}

// IsValid reports whether s is one of the known statuses
func (s IngestionStatus) IsValid() bool {
	_, ok := ingestionTransitions[s]
	return ok
}

// IsTerminal reports whether ingestion has finished, successfully or not
func (s IngestionStatus) IsTerminal() bool {
	return s == IngestionSuccess || s == IngestionFailed
}

// CanTransitionTo reports whether moving from s to next is legal
func (s IngestionStatus) CanTransitionTo(next IngestionStatus) bool {
	for _, allowed := range ingestionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Document is an uploaded PDF owned by a single user.
// Its ID doubles as the vector index namespace for its passages.
type Document struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	SourceKey    string          `json:"source_key"`
	Name         string          `json:"name"`
	Status       IngestionStatus `json:"ingestion_status"`
	Error        string          `json:"error,omitempty"`
	PassageCount int             `json:"passage_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewDocument creates a document in PENDING state
func NewDocument(ownerID, sourceKey, name string) *Document {
	now := time.Now()
	return &Document{
		ID:        GenerateID(),
		OwnerID:   ownerID,
		SourceKey: sourceKey,
		Name:      name,
		Status:    IngestionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the document to the next status, rejecting illegal moves
func (d *Document) Transition(next IngestionStatus) error {
	if !d.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, next)
	}
	d.Status = next
	d.UpdatedAt = time.Now()
	if next == IngestionProcessing {
		d.Error = ""
	}
	return nil
}

// MarkSucceeded records a successful ingestion of count passages
func (d *Document) MarkSucceeded(count int) error {
	if err := d.Transition(IngestionSuccess); err != nil {
		return err
	}
	d.PassageCount = count
	return nil
}

// MarkFailed records a failed ingestion with its reason
func (d *Document) MarkFailed(reason string) error {
	if err := d.Transition(IngestionFailed); err != nil {
		return err
	}
	d.Error = reason
	return nil
}

// OwnedBy reports whether the document belongs to ownerID
func (d *Document) OwnedBy(ownerID string) bool {
	return ownerID != "" && d.OwnerID == ownerID
}

// DocumentStatusEvent is published whenever a document changes ingestion status
type DocumentStatusEvent struct {
	DocumentID string          `json:"document_id"`
	OwnerID    string          `json:"owner_id"`
	Status     IngestionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	Passages   int             `json:"passages,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// StatusEvent builds the event describing the document's current state
func (d *Document) StatusEvent() DocumentStatusEvent {
	return DocumentStatusEvent{
		DocumentID: d.ID,
		OwnerID:    d.OwnerID,
		Status:     d.Status,
		Error:      d.Error,
		Passages:   d.PassageCount,
		OccurredAt: d.UpdatedAt,
	}
}
