package driven

import (
	"context"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

// ChatModel provides streaming chat completions
type ChatModel interface {
	// StreamChat starts a generation. Failing to open the stream is reported
	// here; failures after the first chunk surface from ChatStream.Recv.
	StreamChat(ctx context.Context, req domain.ChatRequest) (ChatStream, error)

	// Model returns the model name being used
	Model() string

	// Ping verifies the model service is available
	Ping(ctx context.Context) error

	// Close releases resources held by the service
	Close() error
}

// ChatStream yields generated text incrementally.
// Recv returns io.EOF once the model has finished normally.
type ChatStream interface {
	Recv() (string, error)
	Close() error
}
