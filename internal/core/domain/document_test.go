package domain

import (
	"errors"
	"testing"
)

func TestNewDocument(t *testing.T) {
	doc := NewDocument("user-1", "key-1", "report.pdf")

	if doc.ID == "" {
		t.Error("expected non-empty ID")
	}
	if doc.Status != IngestionPending {
		t.Errorf("expected status %s, got %s", IngestionPending, doc.Status)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if !doc.OwnedBy("user-1") {
		t.Error("expected document to be owned by user-1")
	}
	if doc.OwnedBy("user-2") || doc.OwnedBy("") {
		t.Error("expected document not to be owned by other users")
	}
}

func TestIngestionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to IngestionStatus
		allowed  bool
	}{
		{IngestionPending, IngestionProcessing, true},
		{IngestionPending, IngestionSuccess, false},
		{IngestionPending, IngestionFailed, false},
		{IngestionProcessing, IngestionSuccess, true},
		{IngestionProcessing, IngestionFailed, true},
		{IngestionProcessing, IngestionPending, false},
		{IngestionProcessing, IngestionProcessing, false},
		{IngestionSuccess, IngestionProcessing, true},
		{IngestionSuccess, IngestionFailed, false},
		{IngestionFailed, IngestionProcessing, true},
		{IngestionFailed, IngestionSuccess, false},
		{IngestionStatus("BOGUS"), IngestionProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("expected %v, got %v", tt.allowed, got)
			}
		})
	}
}

func TestIngestionStatus_IsTerminal(t *testing.T) {
	if IngestionPending.IsTerminal() || IngestionProcessing.IsTerminal() {
		t.Error("pending and processing are not terminal")
	}
	if !IngestionSuccess.IsTerminal() || !IngestionFailed.IsTerminal() {
		t.Error("success and failed are terminal")
	}
	if IngestionStatus("x").IsValid() {
		t.Error("unknown status should be invalid")
	}
}

func TestDocument_Transition(t *testing.T) {
	doc := NewDocument("user-1", "key-1", "a.pdf")

	if err := doc.Transition(IngestionSuccess); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if doc.Status != IngestionPending {
		t.Errorf("status must not change on rejected transition, got %s", doc.Status)
	}

	if err := doc.Transition(IngestionProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := doc.MarkFailed("parse pdf: bad xref"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Error != "parse pdf: bad xref" {
		t.Errorf("expected error to be recorded, got %q", doc.Error)
	}

	// re-ingest clears the previous failure
	if err := doc.Transition(IngestionProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Error != "" {
		t.Errorf("expected error cleared, got %q", doc.Error)
	}
	if err := doc.MarkSucceeded(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.PassageCount != 3 {
		t.Errorf("expected 3 passages, got %d", doc.PassageCount)
	}

	ev := doc.StatusEvent()
	if ev.DocumentID != doc.ID || ev.Status != IngestionSuccess || ev.Passages != 3 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestAnswerRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     AnswerRequest
		wantErr bool
	}{
		{"valid", AnswerRequest{DocumentID: "d", Question: "why?"}, false},
		{"blank question", AnswerRequest{DocumentID: "d", Question: "  \n"}, true},
		{"missing document", AnswerRequest{Question: "why?"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
