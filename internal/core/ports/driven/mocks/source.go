package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Ensure mocks implement their ports
var (
	_ driven.FileStorage = (*MockFileStorage)(nil)
	_ driven.PDFParser   = (*MockPDFParser)(nil)
)

// MockFileStorage serves files from memory
type MockFileStorage struct {
	mu      sync.RWMutex
	files   map[string][]byte
	failErr error
	started chan<- string
	release <-chan struct{}
}

// NewMockFileStorage creates a new MockFileStorage
func NewMockFileStorage() *MockFileStorage {
	return &MockFileStorage{files: make(map[string][]byte)}
}

func (m *MockFileStorage) Fetch(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	started, release := m.started, m.release
	m.mu.RUnlock()

	if release != nil {
		if started != nil {
			started <- key
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	data, ok := m.files[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

// Block makes every subsequent Fetch send its key on started and wait
// until release is closed. A nil release unblocks later fetches.
func (m *MockFileStorage) Block(started chan<- string, release <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = started
	m.release = release
}

// Put stores a file under key
func (m *MockFileStorage) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
}

func (m *MockFileStorage) SetFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// PageBreak separates pages in the fake PDF format understood by MockPDFParser
const PageBreak = "\f"

// ErrNotPDF is returned by MockPDFParser for input without the %PDF header
var ErrNotPDF = errors.New("not a pdf")

// MockPDFParser reads a fake PDF: "%PDF" followed by pages separated by PageBreak
type MockPDFParser struct{}

// NewMockPDFParser creates a new MockPDFParser
func NewMockPDFParser() *MockPDFParser {
	return &MockPDFParser{}
}

func (m *MockPDFParser) ExtractPages(ctx context.Context, data []byte) ([]string, error) {
	body, ok := strings.CutPrefix(string(data), "%PDF")
	if !ok {
		return nil, ErrNotPDF
	}
	return strings.Split(body, PageBreak), nil
}

// FakePDF builds input for MockPDFParser with one entry per page
func FakePDF(pages ...string) []byte {
	return []byte("%PDF" + strings.Join(pages, PageBreak))
}
