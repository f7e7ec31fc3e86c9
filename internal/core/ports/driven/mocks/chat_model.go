package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Ensure MockChatModel implements ChatModel
var _ driven.ChatModel = (*MockChatModel)(nil)

// MockChatModel streams scripted chunks.
// By default it answers by echoing the final user content.
type MockChatModel struct {
	mu       sync.Mutex
	respond  func(req domain.ChatRequest) []string
	failOpen error
	failMid  error
	requests []domain.ChatRequest
	closed   int
}

// NewMockChatModel creates a new MockChatModel
func NewMockChatModel() *MockChatModel {
	return &MockChatModel{
		respond: func(req domain.ChatRequest) []string {
			last := req.Messages[len(req.Messages)-1]
			return []string{last.Content}
		},
	}
}

func (m *MockChatModel) StreamChat(ctx context.Context, req domain.ChatRequest) (driven.ChatStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.failOpen != nil {
		return nil, m.failOpen
	}
	return &mockChatStream{
		chunks:  m.respond(req),
		failErr: m.failMid,
		onClose: m.streamClosed,
	}, nil
}

func (m *MockChatModel) Model() string {
	return "mock-chat-model"
}

func (m *MockChatModel) Ping(ctx context.Context) error {
	return nil
}

func (m *MockChatModel) Close() error {
	return nil
}

func (m *MockChatModel) streamClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

// Helper methods for testing

// SetResponse makes every stream emit chunks in order
func (m *MockChatModel) SetResponse(chunks ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = func(domain.ChatRequest) []string { return chunks }
}

// SetRespond replaces the response function
func (m *MockChatModel) SetRespond(fn func(req domain.ChatRequest) []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
}

// SetFailOpen makes StreamChat itself fail
func (m *MockChatModel) SetFailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = err
}

// SetFailAfterChunks makes each stream return err once its chunks are exhausted
func (m *MockChatModel) SetFailAfterChunks(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failMid = err
}

// Requests returns every request received
func (m *MockChatModel) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.requests...)
}

// ClosedStreams returns how many streams were closed
func (m *MockChatModel) ClosedStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockChatStream struct {
	chunks  []string
	pos     int
	failErr error
	onClose func()
	closed  bool
}

func (s *mockChatStream) Recv() (string, error) {
	if s.closed {
		return "", io.ErrClosedPipe
	}
	if s.pos < len(s.chunks) {
		chunk := s.chunks[s.pos]
		s.pos++
		return chunk, nil
	}
	if s.failErr != nil {
		return "", s.failErr
	}
	return "", io.EOF
}

func (s *mockChatStream) Close() error {
	if !s.closed {
		s.closed = true
		s.onClose()
	}
	return nil
}
