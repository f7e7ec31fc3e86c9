package http

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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/docchat/internal/core/services"
	"github.com/custodia-labs/docchat/internal/passages"
)

type serverFixture struct {
	server        *Server
	documents     *mocks.MockDocumentStore
	conversations *mocks.MockConversationStore
	storage       *mocks.MockFileStorage
	queue         *mocks.MockTaskQueue
	model         *mocks.MockChatModel
	auth          *mocks.MockAuthAdapter
}

func newServerFixture(t *testing.T, checks map[string]Pinger) *serverFixture {
	t.Helper()
	f := &serverFixture{
		documents:     mocks.NewMockDocumentStore(),
		conversations: mocks.NewMockConversationStore(),
		storage:       mocks.NewMockFileStorage(),
		queue:         mocks.NewMockTaskQueue(),
		model:         mocks.NewMockChatModel(),
		auth:          mocks.NewMockAuthAdapter(),
	}
	embedder := mocks.NewMockEmbeddingService()
	index := mocks.NewMockVectorIndex()

	ingestion := services.NewIngestionPipeline(services.IngestionPipelineConfig{
		Documents: f.documents,
		Storage:   f.storage,
		Parser:    mocks.NewMockPDFParser(),
		Splitter:  passages.DefaultPipeline(),
		Embedder:  embedder,
		Index:     index,
		Queue:     f.queue,
	})
	answers := services.NewAnswerPipeline(services.AnswerPipelineConfig{
		Documents:     f.documents,
		Conversations: f.conversations,
		Embedder:      embedder,
		Index:         index,
		Model:         f.model,
	})

	cfg := DefaultConfig()
	cfg.Version = "1.2.3"
	f.server = NewServer(cfg, Services{
		Ingestion: ingestion,
		Answers:   answers,
		Documents: services.NewDocumentService(f.documents, f.conversations),
	}, f.auth, checks)
	return f
}

func (f *serverFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.auth.GenerateToken(&domain.TokenClaims{
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return token
}

func (f *serverFixture) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) seedDocument(t *testing.T, id, owner string, status domain.IngestionStatus) {
	t.Helper()
	require.NoError(t, f.documents.Save(context.Background(), &domain.Document{
		ID:        id,
		OwnerID:   owner,
		Name:      id + ".pdf",
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthEndpoints(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/version", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.2.3", decodeBody[map[string]string](t, rec)["version"])

	rec = f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		f := newServerFixture(t, map[string]Pinger{
			"postgres": PingFunc(func(context.Context) error { return nil }),
		})

		rec := f.do(t, http.MethodGet, "/ready", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("dependency down", func(t *testing.T) {
		f := newServerFixture(t, map[string]Pinger{
			"postgres": PingFunc(func(context.Context) error { return nil }),
			"queue":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		})

		rec := f.do(t, http.MethodGet, "/ready", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		body := decodeBody[struct {
			Checks map[string]string `json:"checks"`
		}](t, rec)
		assert.Equal(t, "ok", body.Checks["postgres"])
		assert.Equal(t, "connection refused", body.Checks["queue"])
	})
}

func TestDocumentRoutesRequireAuth(t *testing.T) {
	f := newServerFixture(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/documents"},
		{http.MethodPost, "/api/v1/documents"},
		{http.MethodGet, "/api/v1/documents/doc-1"},
		{http.MethodPost, "/api/v1/documents/doc-1/reingest"},
		{http.MethodGet, "/api/v1/documents/doc-1/messages"},
		{http.MethodPost, "/api/v1/documents/doc-1/messages"},
	} {
		rec := f.do(t, route.method, route.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
	}
}

func TestCreateDocument(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/documents", "user-1", `{"source_key":"abc123","name":"report.pdf"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	doc := decodeBody[domain.Document](t, rec)
	assert.Equal(t, "user-1", doc.OwnerID)
	assert.Equal(t, "report.pdf", doc.Name)
	assert.Equal(t, domain.IngestionProcessing, doc.Status)

	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, doc.ID, pending[0].Payload["document_id"])
}

func TestCreateDocument_BadRequests(t *testing.T) {
	f := newServerFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"source_key":`},
		{"unknown field", `{"source_key":"abc","owner_id":"someone-else"}`},
		{"missing source key", `{"name":"report.pdf"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/documents", "user-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, f.queue.Pending())
}

func TestCreateDocument_QueueDown(t *testing.T) {
	f := newServerFixture(t, nil)
	f.queue.SetFailEnqueue(domain.ErrServiceUnavailable)

	rec := f.do(t, http.MethodPost, "/api/v1/documents", "user-1", `{"source_key":"abc"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service unavailable", decodeBody[ErrorResponse](t, rec).Error)
}

func TestListAndGetDocuments(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedDocument(t, "doc-1", "user-1", domain.IngestionSuccess)
	f.seedDocument(t, "doc-2", "user-2", domain.IngestionSuccess)

	rec := f.do(t, http.MethodGet, "/api/v1/documents", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[DocumentListResponse](t, rec)
	require.Len(t, list.Documents, 1)
	assert.Equal(t, "doc-1", list.Documents[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/documents?limit=abc", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/documents?offset=-1", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/documents/doc-1", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.IngestionSuccess, decodeBody[domain.Document](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/api/v1/documents/doc-2", "user-1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/documents/missing", "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDocuments_Empty(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/documents", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documents":[]}`, rec.Body.String())
}

func TestReingest(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedDocument(t, "done", "user-1", domain.IngestionFailed)
	f.seedDocument(t, "busy", "user-1", domain.IngestionProcessing)

	rec := f.do(t, http.MethodPost, "/api/v1/documents/done/reingest", "user-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, domain.IngestionProcessing, decodeBody[domain.Document](t, rec).Status)
	assert.Len(t, f.queue.Pending(), 1)

	rec = f.do(t, http.MethodPost, "/api/v1/documents/busy/reingest", "user-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/documents/done/reingest", "user-2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListMessages(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedDocument(t, "doc-1", "user-1", domain.IngestionSuccess)
	for i := 0; i < 3; i++ {
		_, err := f.conversations.Append(context.Background(), &domain.Message{
			DocumentID: "doc-1",
			OwnerID:    "user-1",
			Text:       fmt.Sprintf("m%d", i),
			Role:       domain.RoleUser,
		})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/documents/doc-1/messages?limit=2", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[MessageListResponse](t, rec)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m2", page.Messages[0].Text)

	rec = f.do(t, http.MethodGet, "/api/v1/documents/doc-1/messages?before="+page.Messages[1].ID, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	older := decodeBody[MessageListResponse](t, rec)
	require.Len(t, older.Messages, 1)
	assert.Equal(t, "m0", older.Messages[0].Text)

	rec = f.do(t, http.MethodGet, "/api/v1/documents/doc-1/messages", "user-2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAsk_StreamsAnswer(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedDocument(t, "doc-1", "user-1", domain.IngestionSuccess)
	f.model.SetResponse("Hello", ", ", "world")

	rec := f.do(t, http.MethodPost, "/api/v1/documents/doc-1/messages", "user-1", `{"message":"Who says hello?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, world", rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Empty(t, rec.Result().Trailer.Get(answerErrorTrailer))

	msgs := f.conversations.All("doc-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello, world", msgs[1].Text)
}

func TestAsk_Rejections(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedDocument(t, "doc-1", "user-1", domain.IngestionSuccess)

	tests := []struct {
		name   string
		path   string
		user   string
		body   string
		status int
	}{
		{"empty message", "/api/v1/documents/doc-1/messages", "user-1", `{"message":"  "}`, http.StatusBadRequest},
		{"bad body", "/api/v1/documents/doc-1/messages", "user-1", `nope`, http.StatusBadRequest},
		{"not owner", "/api/v1/documents/doc-1/messages", "user-2", `{"message":"hi"}`, http.StatusForbidden},
		{"missing document", "/api/v1/documents/nope/messages", "user-1", `{"message":"hi"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Empty(t, f.conversations.All("doc-1"))
}

func TestAsk_GenerationFailsBeforeStreaming(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedDocument(t, "doc-1", "user-1", domain.IngestionSuccess)
	f.model.SetFailOpen(errors.New("model overloaded"))

	rec := f.do(t, http.MethodPost, "/api/v1/documents/doc-1/messages", "user-1", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "generation failed", decodeBody[ErrorResponse](t, rec).Error)
	assert.Len(t, f.conversations.All("doc-1"), 1, "question is kept")
}

func TestAsk_MidStreamFailureSetsTrailer(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedDocument(t, "doc-1", "user-1", domain.IngestionSuccess)
	f.model.SetResponse("Partial")
	f.model.SetFailAfterChunks(errors.New("connection reset"))

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/documents/doc-1/messages", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "user-1"))

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Partial", string(body))
	assert.Equal(t, "generation failed", resp.Trailer.Get(answerErrorTrailer))

	msgs := f.conversations.All("doc-1")
	require.Len(t, msgs, 1, "partial answer is not persisted")
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrTokenExpired, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("load document: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: message required", domain.ErrInvalidInput), http.StatusBadRequest},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("%w: %w", domain.ErrRetrieval, domain.ErrEmbedding), http.StatusBadGateway},
		{domain.ErrGeneration, http.StatusBadGateway},
		{domain.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSafeMessage_HidesCauses(t *testing.T) {
	err := fmt.Errorf("%w: dial tcp 10.0.0.5:5432: refused", domain.ErrRetrieval)
	assert.Equal(t, "retrieval failed", safeMessage(err))
	assert.Equal(t, "internal error", safeMessage(errors.New("pq: password authentication failed")))
}
