package passages

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.PassageSplitter = (*Pipeline)(nil)

// Segment is a span of page text moving through the pipeline
type Segment struct {
	Text        string
	Page        int // 1-based
	StartOffset int // byte offset within the page
	EndOffset   int
}

// Processor transforms segments. Processors run in ascending Order.
type Processor interface {
	Process(segments []Segment) []Segment
	Name() string
	Order() int
}

// Pipeline chains processors over the pages of a document.
// Every page starts as one segment; the surviving segments become
// passages numbered from zero in page order.
type Pipeline struct {
	mu         sync.RWMutex
	processors []Processor
	sorted     bool
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Add adds a processor to the pipeline.
func (p *Pipeline) Add(processor Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processors = append(p.processors, processor)
	p.sorted = false
}

// Split implements driven.PassageSplitter.
func (p *Pipeline) Split(documentID string, pages []string) []domain.Passage {
	segments := make([]Segment, 0, len(pages))
	for i, page := range pages {
		segments = append(segments, Segment{
			Text:      page,
			Page:      i + 1,
			EndOffset: len(page),
		})
	}

	for _, proc := range p.ordered() {
		segments = proc.Process(segments)
	}

	passages := make([]domain.Passage, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		passages = append(passages, domain.Passage{
			DocumentID: documentID,
			Text:       seg.Text,
			Ordinal:    len(passages),
			Page:       seg.Page,
		})
	}
	return passages
}

func (p *Pipeline) ordered() []Processor {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sorted {
		sort.SliceStable(p.processors, func(i, j int) bool {
			return p.processors[i].Order() < p.processors[j].Order()
		})
		p.sorted = true
	}
	return append([]Processor(nil), p.processors...)
}

// List returns processor names in order.
func (p *Pipeline) List() []string {
	procs := p.ordered()
	names := make([]string, len(procs))
	for i, proc := range procs {
		names[i] = proc.Name()
	}
	return names
}

// Options selects the processors of a standard pipeline
type Options struct {
	Chunk ChunkConfig
	// Dedupe drops repeated segments such as running headers
	Dedupe bool
}

// DefaultPipeline normalizes whitespace and splits oversized pages.
func DefaultPipeline() *Pipeline {
	return NewPipelineWith(Options{Chunk: DefaultChunkConfig()})
}

// NewPipelineWith builds the standard pipeline from opts.
func NewPipelineWith(opts Options) *Pipeline {
	p := NewPipeline()
	p.Add(NewWhitespaceNormalizer())
	p.Add(NewChunker(opts.Chunk))
	if opts.Dedupe {
		p.Add(NewDeduplicator(DefaultDeduplicatorConfig()))
	}
	return p
}

// ChunkConfig configures the chunker behavior.
type ChunkConfig struct {
	// MaxChunkSize is the maximum bytes per passage; smaller pages stay whole
	MaxChunkSize int

	// Overlap is the byte overlap between consecutive chunks of one page
	Overlap int

	// PreserveSentences tries to break at sentence boundaries
	PreserveSentences bool

	// PreserveParagraphs tries to break at paragraph boundaries
	PreserveParagraphs bool
}

// DefaultChunkConfig returns the defaults used for ingestion.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChunkSize:       4000,
		Overlap:            200,
		PreserveSentences:  true,
		PreserveParagraphs: true,
	}
}

// Chunker splits oversized segments into overlapping chunks.
type Chunker struct {
	config ChunkConfig
}

var _ Processor = (*Chunker)(nil)

// NewChunker creates a new chunker with the given config.
func NewChunker(config ChunkConfig) *Chunker {
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = DefaultChunkConfig().MaxChunkSize
	}
	if config.Overlap < 0 || config.Overlap >= config.MaxChunkSize {
		config.Overlap = 0
	}
	return &Chunker{config: config}
}

func (c *Chunker) Process(segments []Segment) []Segment {
	var result []Segment
	for _, seg := range segments {
		result = append(result, c.split(seg)...)
	}
	return result
}

func (c *Chunker) Name() string {
	return "chunker"
}

func (c *Chunker) Order() int {
	return 10
}

func (c *Chunker) split(seg Segment) []Segment {
	content := seg.Text
	if len(content) <= c.config.MaxChunkSize {
		return []Segment{seg}
	}

	var chunks []Segment
	start := 0

	for start < len(content) {
		end := start + c.config.MaxChunkSize
		if end > len(content) {
			end = len(content)
		}

		if end < len(content) && (c.config.PreserveSentences || c.config.PreserveParagraphs) {
			if bp := c.findBreakPoint(content, start, end); bp > start {
				end = bp
			}
		}
		end = runeBoundary(content, end, start)
		if end <= start {
			_, size := utf8.DecodeRuneInString(content[start:])
			end = start + size
		}

		chunks = append(chunks, Segment{
			Text:        content[start:end],
			Page:        seg.Page,
			StartOffset: seg.StartOffset + start,
			EndOffset:   seg.StartOffset + end,
		})

		if end >= len(content) {
			break
		}

		// always advance, even when the overlap would swallow the chunk
		next := runeBoundary(content, end-c.config.Overlap, start)
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// runeBoundary moves i back to the start of the rune containing it, never below floor.
func runeBoundary(s string, i, floor int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > floor && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// findBreakPoint looks for a paragraph, sentence or word boundary in the
// last 100 bytes before maxEnd.
func (c *Chunker) findBreakPoint(content string, start, maxEnd int) int {
	searchStart := maxEnd - 100
	if searchStart < start {
		searchStart = start
	}
	window := content[searchStart:maxEnd]

	if c.config.PreserveParagraphs {
		if idx := strings.LastIndex(window, "\n\n"); idx != -1 {
			return searchStart + idx + 2
		}
	}

	if c.config.PreserveSentences {
		best := -1
		for _, ender := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
			if idx := strings.LastIndex(window, ender); idx != -1 && idx+len(ender) > best {
				best = idx + len(ender)
			}
		}
		if best > 0 {
			return searchStart + best
		}
	}

	if idx := strings.LastIndex(window, " "); idx != -1 {
		return searchStart + idx + 1
	}
	return maxEnd
}

// DeduplicatorConfig configures the deduplicator.
type DeduplicatorConfig struct {
	// MinDuplicateLength is the minimum segment length checked for duplicates
	MinDuplicateLength int
}

// DefaultDeduplicatorConfig returns sensible defaults.
func DefaultDeduplicatorConfig() DeduplicatorConfig {
	return DeduplicatorConfig{MinDuplicateLength: 50}
}

// Deduplicator removes segments whose text repeats an earlier segment.
type Deduplicator struct {
	config DeduplicatorConfig
}

var _ Processor = (*Deduplicator)(nil)

// NewDeduplicator creates a new deduplicator with the given config.
func NewDeduplicator(config DeduplicatorConfig) *Deduplicator {
	return &Deduplicator{config: config}
}

func (d *Deduplicator) Process(segments []Segment) []Segment {
	if len(segments) <= 1 {
		return segments
	}

	seen := make(map[string]bool)
	var result []Segment
	for _, seg := range segments {
		if len(seg.Text) < d.config.MinDuplicateLength {
			result = append(result, seg)
			continue
		}
		key := strings.ToLower(strings.TrimSpace(seg.Text))
		if !seen[key] {
			seen[key] = true
			result = append(result, seg)
		}
	}
	return result
}

func (d *Deduplicator) Name() string {
	return "deduplicator"
}

func (d *Deduplicator) Order() int {
	return 20
}

// WhitespaceNormalizer collapses runs of spaces, trims lines and drops
// segments left empty. PDF text extraction is noisy with both.
type WhitespaceNormalizer struct{}

var _ Processor = (*WhitespaceNormalizer)(nil)

// NewWhitespaceNormalizer creates a new whitespace normalizer.
func NewWhitespaceNormalizer() *WhitespaceNormalizer {
	return &WhitespaceNormalizer{}
}

func (w *WhitespaceNormalizer) Process(segments []Segment) []Segment {
	result := make([]Segment, 0, len(segments))

	for _, seg := range segments {
		content := strings.ReplaceAll(seg.Text, "\r\n", "\n")
		content = strings.ReplaceAll(content, "\r", "\n")
		content = strings.ReplaceAll(content, "\t", " ")

		lines := strings.Split(content, "\n")
		for i, line := range lines {
			lines[i] = strings.Join(strings.Fields(line), " ")
		}
		content = strings.Join(lines, "\n")

		for strings.Contains(content, "\n\n\n") {
			content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
		}
		content = strings.TrimSpace(content)

		if content != "" {
			seg.Text = content
			seg.EndOffset = seg.StartOffset + len(content)
			result = append(result, seg)
		}
	}

	return result
}

func (w *WhitespaceNormalizer) Name() string {
	return "whitespace-normalizer"
}

func (w *WhitespaceNormalizer) Order() int {
	return 0
}
