package ai

import (
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultEmbeddingModel = "text-embedding-ada-002"
	defaultChatModel      = "gpt-3.5-turbo"
	defaultTimeout        = 60 * time.Second
)

// Config holds the settings shared by the OpenAI adapters.
type Config struct {
	APIKey         string
	BaseURL        string // empty selects the public OpenAI API
	EmbeddingModel string
	Dimensions     int // 0 selects the model's native size
	ChatModel      string
	Timeout        time.Duration // per embedding request; chat streams are bounded by ctx
	Logger         *zap.Logger
}

// Factory creates the embedding and chat adapters over one API client
type Factory struct {
	client *openai.Client
	cfg    Config
}

// NewFactory creates a new AI service factory
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Factory{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// CreateEmbeddingService creates the embedding adapter
func (f *Factory) CreateEmbeddingService() *OpenAIEmbedding {
	return newOpenAIEmbedding(f.client, f.cfg)
}

// CreateChatModel creates the streaming chat adapter
func (f *Factory) CreateChatModel() *OpenAIChat {
	return newOpenAIChat(f.client, f.cfg)
}
