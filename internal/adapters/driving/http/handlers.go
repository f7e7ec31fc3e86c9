package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driving"
	"github.com/custodia-labs/docchat/internal/logger"
)

// answerErrorTrailer reports a failure that happened after the answer
// stream had started. It is empty or absent for complete answers.
const answerErrorTrailer = "X-Answer-Error"

const (
	maxRequestBody = 64 << 10
	readyTimeout   = 3 * time.Second
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// DocumentListResponse is a page of the caller's documents
type DocumentListResponse struct {
	Documents []*domain.Document `json:"documents"`
}

// MessageListResponse is a page of a document's conversation, newest first
type MessageListResponse struct {
	Messages []*domain.Message `json:"messages"`
}

// askRequest is the body of POST /documents/{id}/messages
type askRequest struct {
	Message string `json:"message"`
}

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady pings every registered dependency
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	ready := true
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Document endpoints

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req driving.AcceptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.OwnerID = ownerID(r)

	doc, err := s.ingestion.Accept(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	docs, err := s.documents.List(r.Context(), ownerID(r), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*domain.Document{}
	}

	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), chi.URLParam(r, "id"), ownerID(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReingest(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ingestion.Reingest(r.Context(), chi.URLParam(r, "id"), ownerID(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

// Conversation endpoints

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	msgs, err := s.documents.Messages(r.Context(), chi.URLParam(r, "id"), ownerID(r), limit, r.URL.Query().Get("before"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}

	writeJSON(w, http.StatusOK, MessageListResponse{Messages: msgs})
}

// handleAsk streams the answer as plain text, flushing every chunk.
// Failures before the first byte get a JSON error response; failures
// after it are reported in the X-Answer-Error trailer.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stream, err := s.answers.Answer(r.Context(), domain.AnswerRequest{
		DocumentID: chi.URLParam(r, "id"),
		OwnerID:    ownerID(r),
		Question:   body.Message,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	defer stream.Close()

	log := logger.FromContext(r.Context(), s.logger)
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Trailer", answerErrorTrailer)
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Warn("answer stream failed", zap.Error(err))
			w.Header().Set(answerErrorTrailer, safeMessage(err))
			return
		}

		if _, err := io.WriteString(w, chunk); err != nil {
			log.Info("client went away mid-answer", zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.Info("flush failed", zap.Error(err))
			return
		}
	}
}

// Helper functions

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRetrieval),
		errors.Is(err, domain.ErrGeneration),
		errors.Is(err, domain.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// safeMessage returns the matching sentinel text without exposing causes
func safeMessage(err error) string {
	sentinels := []error{
		domain.ErrUnauthorized,
		domain.ErrForbidden,
		domain.ErrNotFound,
		domain.ErrInvalidInput,
		domain.ErrInvalidTransition,
		domain.ErrRetrieval,
		domain.ErrGeneration,
		domain.ErrEmbedding,
		domain.ErrServiceUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logger.FromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, safeMessage(err))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryInt reads an optional integer query parameter, 0 when absent
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
