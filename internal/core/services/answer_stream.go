package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
	"github.com/custodia-labs/docchat/internal/core/ports/driving"
	"github.com/custodia-labs/docchat/internal/metrics"
)

var _ driving.AnswerStream = (*answerStream)(nil)

// answerStream relays model chunks to one consumer while accumulating them.
// Completion persists the answer; failure or Close discards it. Not safe
// for concurrent use.
type answerStream struct {
	ctx           context.Context
	upstream      driven.ChatStream
	conversations driven.ConversationStore
	documentID    string
	ownerID       string
	logger        *zap.Logger

	answer strings.Builder
	err    error // terminal; every Recv after it returns the same error
	closed bool
}

func newAnswerStream(
	ctx context.Context,
	upstream driven.ChatStream,
	conversations driven.ConversationStore,
	documentID, ownerID string,
	log *zap.Logger,
) *answerStream {
	return &answerStream{
		ctx:           ctx,
		upstream:      upstream,
		conversations: conversations,
		documentID:    documentID,
		ownerID:       ownerID,
		logger:        log,
	}
}

// Recv returns the next chunk, or io.EOF once the answer has been persisted.
func (s *answerStream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	for {
		chunk, err := s.upstream.Recv()
		switch {
		case errors.Is(err, io.EOF):
			return "", s.complete()
		case err != nil:
			return "", s.fail(err)
		case chunk == "":
			continue
		}
		s.answer.WriteString(chunk)
		return chunk, nil
	}
}

// Close aborts an unfinished answer without persisting it.
func (s *answerStream) Close() error {
	if s.err == nil {
		s.err = domain.ErrStreamClosed
		s.answer.Reset()
		metrics.AnswersTotal.WithLabelValues("aborted").Inc()
		s.logger.Info("answer stream closed before completion")
	}
	return s.closeUpstream()
}

func (s *answerStream) complete() error {
	_ = s.closeUpstream()

	// the answer finished; a consumer that went away must not lose it
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), statusWriteTimeout)
	defer cancel()

	_, err := s.conversations.Append(writeCtx, &domain.Message{
		DocumentID: s.documentID,
		OwnerID:    s.ownerID,
		Text:       s.answer.String(),
		Role:       domain.RoleAssistant,
	})
	if err != nil {
		s.err = fmt.Errorf("persist answer: %w", err)
		metrics.AnswersTotal.WithLabelValues("persist_failed").Inc()
		s.logger.Error("failed to persist answer", zap.Error(err))
		return s.err
	}

	s.logger.Debug("answer persisted", zap.Int("bytes", s.answer.Len()))
	metrics.AnswersTotal.WithLabelValues("completed").Inc()
	s.err = io.EOF
	return s.err
}

func (s *answerStream) fail(cause error) error {
	_ = s.closeUpstream()

	discarded := s.answer.Len()
	s.answer.Reset()
	s.err = cause
	if !errors.Is(cause, domain.ErrGeneration) {
		s.err = fmt.Errorf("%w: %w", domain.ErrGeneration, cause)
	}

	metrics.AnswersTotal.WithLabelValues("generation_failed").Inc()
	s.logger.Warn("answer stream failed",
		zap.Int("discarded_bytes", discarded),
		zap.Error(cause),
	)
	return s.err
}

func (s *answerStream) closeUpstream() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.upstream.Close()
}
