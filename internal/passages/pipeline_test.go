package passages

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPipeline_Split_OnePassagePerPage(t *testing.T) {
	p := DefaultPipeline()

	passages := p.Split("doc1", []string{"Hello world", "Second page"})

	if len(passages) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(passages))
	}
	for i, ps := range passages {
		if ps.Ordinal != i {
			t.Errorf("expected ordinal %d, got %d", i, ps.Ordinal)
		}
		if ps.DocumentID != "doc1" {
			t.Errorf("expected document doc1, got %s", ps.DocumentID)
		}
		if ps.Page != i+1 {
			t.Errorf("expected page %d, got %d", i+1, ps.Page)
		}
	}
	if passages[0].Text != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", passages[0].Text)
	}
}

func TestPipeline_Split_SkipsBlankPagesWithDenseOrdinals(t *testing.T) {
	p := DefaultPipeline()

	passages := p.Split("doc1", []string{"first", "   \n\t ", "", "third"})

	if len(passages) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(passages))
	}
	if passages[1].Ordinal != 1 || passages[1].Page != 4 {
		t.Errorf("expected ordinal 1 from page 4, got ordinal %d page %d", passages[1].Ordinal, passages[1].Page)
	}
}

func TestPipeline_Split_Empty(t *testing.T) {
	if got := DefaultPipeline().Split("doc1", nil); len(got) != 0 {
		t.Errorf("expected no passages, got %d", len(got))
	}
}

func TestPipeline_Split_Deterministic(t *testing.T) {
	pages := []string{strings.Repeat("Lorem ipsum dolor sit amet. ", 400), "tail"}
	a := DefaultPipeline().Split("doc1", pages)
	b := DefaultPipeline().Split("doc1", pages)

	if len(a) != len(b) {
		t.Fatalf("expected equal lengths, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("passage %d differs", i)
		}
	}
}

func TestPipeline_OrderedProcessors(t *testing.T) {
	p := NewPipeline()
	p.Add(NewDeduplicator(DefaultDeduplicatorConfig()))
	p.Add(NewChunker(DefaultChunkConfig()))
	p.Add(NewWhitespaceNormalizer())

	names := p.List()
	want := []string{"whitespace-normalizer", "chunker", "deduplicator"}
	if len(names) != len(want) {
		t.Fatalf("expected %d processors, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestNewPipelineWith_Dedupe(t *testing.T) {
	header := strings.Repeat("ACME Corp confidential report header ", 3)
	pages := []string{header, header, "body"}

	plain := NewPipelineWith(Options{Chunk: DefaultChunkConfig()}).Split("d", pages)
	deduped := NewPipelineWith(Options{Chunk: DefaultChunkConfig(), Dedupe: true}).Split("d", pages)

	if len(plain) != 3 {
		t.Errorf("expected 3 passages without dedupe, got %d", len(plain))
	}
	if len(deduped) != 2 {
		t.Errorf("expected 2 passages with dedupe, got %d", len(deduped))
	}
}

func TestDefaultChunkConfig(t *testing.T) {
	config := DefaultChunkConfig()

	if config.MaxChunkSize != 4000 {
		t.Errorf("expected MaxChunkSize 4000, got %d", config.MaxChunkSize)
	}
	if config.Overlap != 200 {
		t.Errorf("expected Overlap 200, got %d", config.Overlap)
	}
	if !config.PreserveSentences || !config.PreserveParagraphs {
		t.Error("expected sentence and paragraph preservation")
	}
}

func TestChunker_SplitsWithOverlap(t *testing.T) {
	config := ChunkConfig{MaxChunkSize: 100, Overlap: 20}
	c := NewChunker(config)

	content := strings.Repeat("a", 250)
	chunks := c.Process([]Segment{{Text: content, Page: 3, EndOffset: len(content)}})

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i-1].EndOffset - chunks[i].StartOffset
		if overlap != config.Overlap {
			t.Errorf("expected overlap %d, got %d", config.Overlap, overlap)
		}
	}
	for _, chunk := range chunks {
		if chunk.Page != 3 {
			t.Errorf("expected page to carry through, got %d", chunk.Page)
		}
	}
	if chunks[len(chunks)-1].EndOffset != len(content) {
		t.Error("chunks do not cover the whole page")
	}
}

func TestChunker_SmallSegmentUntouched(t *testing.T) {
	c := NewChunker(DefaultChunkConfig())
	in := []Segment{{Text: "Hello, world!", Page: 1, EndOffset: 13}}

	out := c.Process(in)
	if len(out) != 1 || out[0] != in[0] {
		t.Errorf("expected segment unchanged, got %+v", out)
	}
}

func TestChunker_PrefersSentenceBoundary(t *testing.T) {
	c := NewChunker(ChunkConfig{MaxChunkSize: 50, Overlap: 0, PreserveSentences: true})

	content := "This is sentence one. This is sentence two. This is sentence three."
	chunks := c.Process([]Segment{{Text: content, EndOffset: len(content)}})

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, ". ") {
		t.Errorf("expected first chunk to end at a sentence, got %q", chunks[0].Text)
	}
}

func TestChunker_NeverSplitsRunes(t *testing.T) {
	c := NewChunker(ChunkConfig{MaxChunkSize: 7, Overlap: 2})

	content := strings.Repeat("日本語", 10)
	chunks := c.Process([]Segment{{Text: content, EndOffset: len(content)}})

	for i, chunk := range chunks {
		if !utf8.ValidString(chunk.Text) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, chunk.Text)
		}
	}
}

func TestNewChunker_SanitizesConfig(t *testing.T) {
	c := NewChunker(ChunkConfig{MaxChunkSize: 0, Overlap: -5})
	if c.config.MaxChunkSize != 4000 || c.config.Overlap != 0 {
		t.Errorf("unexpected config: %+v", c.config)
	}

	c = NewChunker(ChunkConfig{MaxChunkSize: 10, Overlap: 10})
	if c.config.Overlap != 0 {
		t.Errorf("expected overlap reset, got %d", c.config.Overlap)
	}
}

func TestDeduplicator_RemovesDuplicates(t *testing.T) {
	d := NewDeduplicator(DeduplicatorConfig{MinDuplicateLength: 5})

	out := d.Process([]Segment{
		{Text: "Repeated Header"},
		{Text: "unique body"},
		{Text: "repeated header "},
		{Text: "abc"},
		{Text: "abc"},
	})

	if len(out) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(out))
	}
}

func TestWhitespaceNormalizer(t *testing.T) {
	w := NewWhitespaceNormalizer()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"line endings", "a\r\nb\rc", "a\nb\nc"},
		{"collapse spaces", "a    b\t\tc", "a b c"},
		{"blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"trim", "  \n a \n  ", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := w.Process([]Segment{{Text: tt.in, Page: 2}})
			if len(out) != 1 {
				t.Fatalf("expected 1 segment, got %d", len(out))
			}
			if out[0].Text != tt.want {
				t.Errorf("expected %q, got %q", tt.want, out[0].Text)
			}
			if out[0].Page != 2 {
				t.Errorf("expected page preserved, got %d", out[0].Page)
			}
		})
	}
}

func TestWhitespaceNormalizer_DropsEmpty(t *testing.T) {
	out := NewWhitespaceNormalizer().Process([]Segment{{Text: " \n\t "}, {Text: "x"}})
	if len(out) != 1 || out[0].Text != "x" {
		t.Errorf("expected only the non-empty segment, got %+v", out)
	}
}
