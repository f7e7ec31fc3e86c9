package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
	"github.com/custodia-labs/docchat/internal/metrics"
)

// Ensure OpenAIChat implements ChatModel
var _ driven.ChatModel = (*OpenAIChat)(nil)

// OpenAIChat implements ChatModel with streamed chat completions
type OpenAIChat struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func newOpenAIChat(client *openai.Client, cfg Config) *OpenAIChat {
	return &OpenAIChat{
		client: client,
		model:  cfg.ChatModel,
		logger: cfg.Logger,
	}
}

// StreamChat opens a completion stream for req.
func (c *OpenAIChat) StreamChat(ctx context.Context, req domain.ChatRequest) (driven.ChatStream, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	temperature := req.Temperature
	if temperature == 0 {
		// a zero temperature is dropped by omitempty and the API default applies
		temperature = math.SmallestNonzeroFloat32
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		metrics.ChatStreamsTotal.WithLabelValues(c.model, "open_failed").Inc()
		c.logger.Warn("chat stream open failed", zap.Error(err))
		return nil, parseChatError(err)
	}

	return &openAIChatStream{
		stream: stream,
		model:  c.model,
		opened: time.Now(),
	}, nil
}

// Model returns the chat model name
func (c *OpenAIChat) Model() string {
	return c.model
}

// Ping verifies API availability
func (c *OpenAIChat) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%w: list models: %w", domain.ErrServiceUnavailable, err)
	}
	return nil
}

// Close releases resources held by the chat model
func (c *OpenAIChat) Close() error {
	return nil
}

// openAIChatStream yields content deltas. The server closing the stream
// before a finish reason arrived is reported as truncation, not io.EOF.
type openAIChatStream struct {
	stream *openai.ChatCompletionStream
	model  string
	opened time.Time

	gotChunk bool
	finished bool
	done     bool
}

func (s *openAIChatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			if !s.finished {
				s.record("truncated")
				return "", fmt.Errorf("%w: stream ended without a finish reason", domain.ErrGeneration)
			}
			s.record("completed")
			return "", io.EOF
		}
		if err != nil {
			s.record("failed")
			return "", parseChatError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		switch choice.FinishReason {
		case "":
		case openai.FinishReasonContentFilter:
			s.record("filtered")
			return "", fmt.Errorf("%w: answer blocked by content filter", domain.ErrGeneration)
		default:
			s.finished = true
		}

		if choice.Delta.Content == "" {
			continue
		}
		if !s.gotChunk {
			s.gotChunk = true
			metrics.ChatTimeToFirstChunk.WithLabelValues(s.model).Observe(time.Since(s.opened).Seconds())
		}
		return choice.Delta.Content, nil
	}
}

func (s *openAIChatStream) Close() error {
	s.record("aborted")
	return s.stream.Close()
}

// record counts the stream outcome once
func (s *openAIChatStream) record(status string) {
	if s.done {
		return
	}
	s.done = true
	metrics.ChatStreamsTotal.WithLabelValues(s.model, status).Inc()
}

func parseChatError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: API error %d: %s", domain.ErrGeneration, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %w", domain.ErrGeneration, reqErr)
	}
	return fmt.Errorf("%w: %w", domain.ErrGeneration, err)
}
