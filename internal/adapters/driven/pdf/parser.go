package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.PDFParser = (*Parser)(nil)

// ErrNotPDF is returned for input that does not start with a PDF header
var ErrNotPDF = errors.New("not a pdf document")

// Parser extracts plain page text with ledongthuc/pdf.
// Scanned pages have no text layer and come back empty.
type Parser struct {
	logger *zap.Logger
}

// NewParser creates a new PDF parser.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// ExtractPages returns the text of every page in page order.
func (p *Parser) ExtractPages(ctx context.Context, data []byte) (pages []string, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return nil, ErrNotPDF
	}

	// The reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	n := reader.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		text, err := page.GetPlainText(pageFonts(page))
		if err != nil {
			p.logger.Warn("page text extraction failed",
				zap.Int("page", i),
				zap.Error(err))
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.TrimSpace(text))
	}

	p.logger.Debug("extracted pdf pages", zap.Int("pages", n))
	return pages, nil
}

func pageFonts(page pdf.Page) map[string]*pdf.Font {
	fonts := make(map[string]*pdf.Font)
	for _, name := range page.Fonts() {
		font := page.Font(name)
		fonts[name] = &font
	}
	return fonts
}
