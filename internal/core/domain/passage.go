package domain

// Passage is a contiguous span of document text, the unit of retrieval.
// Ordinals are dense and start at zero for each document.
type Passage struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Ordinal    int    `json:"ordinal"`
	Page       int    `json:"page"` // 1-based source page
}

// EmbeddedPassage is a passage paired with its embedding vector
type EmbeddedPassage struct {
	DocumentID string    `json:"document_id"`
	Vector     []float32 `json:"vector,omitempty"`
	Text       string    `json:"text"`
	Ordinal    int       `json:"ordinal"`
	Page       int       `json:"page"`
}

// ScoredPassage is a query hit, higher Score is more similar
type ScoredPassage struct {
	EmbeddedPassage
	Score float32 `json:"score"`
}

// Embed pairs the passage with vector
func (p Passage) Embed(vector []float32) EmbeddedPassage {
	return EmbeddedPassage{
		DocumentID: p.DocumentID,
		Vector:     vector,
		Text:       p.Text,
		Ordinal:    p.Ordinal,
		Page:       p.Page,
	}
}
