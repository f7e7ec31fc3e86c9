package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

func newTestEmbedding(t *testing.T, url string, dims int) *OpenAIEmbedding {
	t.Helper()
	factory, err := NewFactory(Config{
		APIKey:         "sk-test",
		BaseURL:        url,
		EmbeddingModel: "test-model",
		Dimensions:     dims,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return factory.CreateEmbeddingService()
}

func embeddingServer(t *testing.T, vectors map[int][]float32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected /embeddings, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Error("expected Authorization header")
		}

		resp := openai.EmbeddingResponse{Object: "list", Model: "test-model"}
		for idx, vec := range vectors {
			resp.Data = append(resp.Data, openai.Embedding{Object: "embedding", Index: idx, Embedding: vec})
		}
		resp.Usage.TotalTokens = 7

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenAIEmbedding_Embed_EmptyInput(t *testing.T) {
	svc := newTestEmbedding(t, "http://unused", 3)

	result, err := svc.Embed(context.Background(), []string{})
	if err != nil {
		t.Errorf("unexpected error for empty input: %v", err)
	}
	if result != nil {
		t.Error("expected nil result for empty input")
	}

	if _, err := svc.Embed(context.Background(), []string{"ok", "  "}); !errors.Is(err, domain.ErrEmbedding) {
		t.Errorf("expected ErrEmbedding for blank text, got %v", err)
	}
}

func TestOpenAIEmbedding_Embed_OrdersByIndex(t *testing.T) {
	// the server answers out of order
	server := embeddingServer(t, map[int][]float32{
		1: {0.4, 0.5, 0.6},
		0: {0.1, 0.2, 0.3},
	})
	svc := newTestEmbedding(t, server.URL, 3)

	result, err := svc.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(result))
	}
	if result[0][0] != 0.1 || result[1][0] != 0.4 {
		t.Error("expected embeddings in input order")
	}
}

func TestOpenAIEmbedding_Embed_CollapsesWhitespace(t *testing.T) {
	var got []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		got = req.Input

		resp := openai.EmbeddingResponse{Object: "list", Model: "test-model"}
		for i := range req.Input {
			resp.Data = append(resp.Data, openai.Embedding{Object: "embedding", Index: i, Embedding: []float32{1, 0, 0}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	svc := newTestEmbedding(t, server.URL, 3)

	_, err := svc.Embed(context.Background(), []string{"  line one\n\nline\ttwo  ", "plain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"line one line two", "plain"}
	if len(got) != len(want) {
		t.Fatalf("expected %d inputs, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("input %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	if _, err := svc.Embed(context.Background(), []string{"\n\t "}); !errors.Is(err, domain.ErrEmbedding) {
		t.Errorf("expected ErrEmbedding for whitespace-only text, got %v", err)
	}
}

func TestOpenAIEmbedding_EmbedQuery(t *testing.T) {
	server := embeddingServer(t, map[int][]float32{0: {0.1, 0.2, 0.3}})
	svc := newTestEmbedding(t, server.URL, 3)

	result, err := svc.EmbedQuery(context.Background(), "test query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 3 {
		t.Errorf("expected 3 dimensions, got %d", len(result))
	}
}

func TestOpenAIEmbedding_Embed_MissingOrWrongSize(t *testing.T) {
	t.Run("missing vector", func(t *testing.T) {
		server := embeddingServer(t, map[int][]float32{0: {0.1, 0.2, 0.3}})
		svc := newTestEmbedding(t, server.URL, 3)

		if _, err := svc.Embed(context.Background(), []string{"a", "b"}); !errors.Is(err, domain.ErrEmbedding) {
			t.Errorf("expected ErrEmbedding, got %v", err)
		}
	})

	t.Run("wrong size", func(t *testing.T) {
		server := embeddingServer(t, map[int][]float32{0: {0.1, 0.2}})
		svc := newTestEmbedding(t, server.URL, 3)

		if _, err := svc.EmbedQuery(context.Background(), "a"); !errors.Is(err, domain.ErrEmbedding) {
			t.Errorf("expected ErrEmbedding, got %v", err)
		}
	})
}

func TestOpenAIEmbedding_Embed_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	svc := newTestEmbedding(t, server.URL, 3)

	_, err := svc.Embed(context.Background(), []string{"test"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestOpenAIEmbedding_Embed_NetworkError(t *testing.T) {
	svc := newTestEmbedding(t, "http://127.0.0.1:1", 3)

	if _, err := svc.Embed(context.Background(), []string{"test"}); !errors.Is(err, domain.ErrEmbedding) {
		t.Errorf("expected ErrEmbedding for network error, got %v", err)
	}
}

func TestOpenAIEmbedding_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer server.Close()

	svc := newTestEmbedding(t, server.URL, 3)
	if err := svc.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected no error from health check, got %v", err)
	}

	server.Close()
	if err := svc.HealthCheck(context.Background()); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestParseAPIError_Detail(t *testing.T) {
	err := parseAPIError(&openai.RequestError{HTTPStatusCode: 400, Body: []byte(`{"detail":"input too long"}`)})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Errorf("expected ErrEmbedding, got %v", err)
	}
	if want := "embedding service error: API error 400: input too long"; err.Error() != want {
		t.Errorf("unexpected message %q, want %q", err.Error(), want)
	}
}
