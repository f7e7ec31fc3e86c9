package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	openai "github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/metrics"
)

type sseChunk struct {
	content string
	finish  openai.FinishReason
}

// chatServer streams chunks as server-sent events, optionally ending with [DONE]
func chatServer(t *testing.T, chunks []sseChunk, done bool, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			data, _ := json.Marshal(openai.ChatCompletionStreamResponse{
				ID:     "chatcmpl-1",
				Object: "chat.completion.chunk",
				Model:  "test-chat",
				Choices: []openai.ChatCompletionStreamChoice{{
					Index:        0,
					Delta:        openai.ChatCompletionStreamChoiceDelta{Content: c.content},
					FinishReason: c.finish,
				}},
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		if done {
			fmt.Fprint(w, "data: [DONE]\n\n")
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestChat(t *testing.T, url string) *OpenAIChat {
	t.Helper()
	factory, err := NewFactory(Config{APIKey: "sk-test", BaseURL: url, ChatModel: "test-chat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return factory.CreateChatModel()
}

func drain(t *testing.T, chat *OpenAIChat) ([]string, error) {
	t.Helper()
	stream, err := chat.StreamChat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hello"},
		},
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var chunks []string
	for {
		chunk, err := stream.Recv()
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

func TestOpenAIChat_StreamsDeltas(t *testing.T) {
	var seen openai.ChatCompletionRequest
	server := chatServer(t, []sseChunk{
		{content: "The doc"},
		{content: ""},
		{content: "ument says hi."},
		{finish: openai.FinishReasonStop},
	}, true, &seen)

	chunks, err := drain(t, newTestChat(t, server.URL))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if got := strings.Join(chunks, "|"); got != "The doc|ument says hi." {
		t.Errorf("unexpected chunks %q", got)
	}

	if seen.Model != "test-chat" || !seen.Stream {
		t.Errorf("unexpected request model=%s stream=%t", seen.Model, seen.Stream)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != "system" {
		t.Errorf("expected system and user messages, got %+v", seen.Messages)
	}
	if seen.Temperature <= 0 || seen.Temperature > 0.001 {
		t.Errorf("expected near-zero temperature to be sent, got %v", seen.Temperature)
	}
}

func TestOpenAIChat_TruncatedStream(t *testing.T) {
	before := testutil.ToFloat64(metrics.ChatStreamsTotal.WithLabelValues("test-chat", "truncated"))

	server := chatServer(t, []sseChunk{{content: "The doc"}}, false, nil)

	chunks, err := drain(t, newTestChat(t, server.URL))
	if !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "The doc" {
		t.Errorf("expected the partial chunk first, got %v", chunks)
	}

	after := testutil.ToFloat64(metrics.ChatStreamsTotal.WithLabelValues("test-chat", "truncated"))
	if after != before+1 {
		t.Errorf("expected truncated counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestOpenAIChat_ContentFilter(t *testing.T) {
	server := chatServer(t, []sseChunk{
		{content: "partial"},
		{finish: openai.FinishReasonContentFilter},
	}, true, nil)

	_, err := drain(t, newTestChat(t, server.URL))
	if !errors.Is(err, domain.ErrGeneration) {
		t.Errorf("expected ErrGeneration, got %v", err)
	}
}

func TestOpenAIChat_OpenError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	}))
	defer server.Close()

	_, err := newTestChat(t, server.URL).StreamChat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if !strings.Contains(err.Error(), "Rate limit reached") {
		t.Errorf("expected API message in error, got %v", err)
	}
}

func TestOpenAIChat_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"test-chat","object":"model"}]}`))
	}))
	defer server.Close()

	if err := newTestChat(t, server.URL).Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
