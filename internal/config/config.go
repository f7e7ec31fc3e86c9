// Package config loads docchat configuration from an optional YAML file
// and DOCCHAT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Index backends
const (
	IndexPgvector = "pgvector"
	IndexChromem  = "chromem"
	IndexQdrant   = "qdrant"
)

// Storage backends
const (
	StorageHTTP  = "http"
	StorageLocal = "local"
)

// Config holds the docchat configuration.
type Config struct {
	Env       string          `koanf:"env"` // local, dev, prod
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	NATS      NATSConfig      `koanf:"nats"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Index     IndexConfig     `koanf:"index"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Ingestion IngestionConfig `koanf:"ingestion"`
	Storage   StorageConfig   `koanf:"storage"`
	Auth      AuthConfig      `koanf:"auth"`
	Worker    WorkerConfig    `koanf:"worker"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"` // bounds a whole streamed answer
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"` // CORS; empty disables
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

// RedisConfig holds Redis settings. An empty URL selects the PostgreSQL task queue.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// NATSConfig holds event publishing settings. An empty URL disables events.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// OpenAIConfig holds embedding and chat model settings.
type OpenAIConfig struct {
	APIKey         string        `koanf:"api_key"`
	BaseURL        string        `koanf:"base_url"`
	EmbeddingModel string        `koanf:"embedding_model"`
	Dimensions     int           `koanf:"dimensions"`
	ChatModel      string        `koanf:"chat_model"`
	Temperature    float32       `koanf:"temperature"`
	Timeout        time.Duration `koanf:"timeout"`
}

// IndexConfig selects and configures the vector index.
type IndexConfig struct {
	Backend string `koanf:"backend"` // pgvector, chromem, qdrant

	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`

	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantTLS        bool   `koanf:"qdrant_tls"`
	QdrantAPIKey     string `koanf:"qdrant_api_key"`
	QdrantCollection string `koanf:"qdrant_collection"`
}

// RetrievalConfig holds answer pipeline settings.
type RetrievalConfig struct {
	TopK         int `koanf:"top_k"`
	HistoryLimit int `koanf:"history_limit"`
}

// IngestionConfig holds ingestion pipeline settings.
type IngestionConfig struct {
	MaxFileBytes   int           `koanf:"max_file_bytes"`
	EmbedBatchSize int           `koanf:"embed_batch_size"`
	ChunkSize      int           `koanf:"chunk_size"`
	ChunkOverlap   int           `koanf:"chunk_overlap"`
	Dedupe         bool          `koanf:"dedupe"`
	StuckAfter     time.Duration `koanf:"stuck_after"`
}

// StorageConfig selects where uploaded files are fetched from.
type StorageConfig struct {
	Backend      string        `koanf:"backend"` // http, local
	BaseURL      string        `koanf:"base_url"`
	Dir          string        `koanf:"dir"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// WorkerConfig holds ingestion worker settings.
type WorkerConfig struct {
	Concurrency    int           `koanf:"concurrency"`
	DequeueTimeout int           `koanf:"dequeue_timeout"` // seconds
	SweepInterval  time.Duration `koanf:"sweep_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error (default: determined by env)
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.Database.ConnMaxIdleTime <= 0 {
		c.Database.ConnMaxIdleTime = time.Minute
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = "docchat.documents.status"
	}

	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = "text-embedding-ada-002"
	}
	if c.OpenAI.Dimensions <= 0 {
		c.OpenAI.Dimensions = 1536
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-3.5-turbo"
	}
	if c.OpenAI.Timeout <= 0 {
		c.OpenAI.Timeout = time.Minute
	}

	if c.Index.Backend == "" {
		c.Index.Backend = IndexPgvector
	}
	if c.Index.ChromemPath == "" {
		c.Index.ChromemPath = "data/chromem"
	}
	if c.Index.QdrantHost == "" {
		c.Index.QdrantHost = "localhost"
	}
	if c.Index.QdrantPort <= 0 {
		c.Index.QdrantPort = 6334
	}
	if c.Index.QdrantCollection == "" {
		c.Index.QdrantCollection = "docchat_passages"
	}

	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 4
	}
	if c.Retrieval.HistoryLimit <= 0 {
		c.Retrieval.HistoryLimit = 6
	}

	if c.Ingestion.MaxFileBytes <= 0 {
		c.Ingestion.MaxFileBytes = 4 << 20
	}
	if c.Ingestion.EmbedBatchSize <= 0 {
		c.Ingestion.EmbedBatchSize = 64
	}
	if c.Ingestion.ChunkSize <= 0 {
		c.Ingestion.ChunkSize = 4000
	}
	if c.Ingestion.ChunkOverlap <= 0 {
		c.Ingestion.ChunkOverlap = 200
	}
	if c.Ingestion.StuckAfter <= 0 {
		c.Ingestion.StuckAfter = 30 * time.Minute
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageHTTP
	}
	if c.Storage.BaseURL == "" {
		c.Storage.BaseURL = "https://utfs.io/f/"
	}
	if c.Storage.FetchTimeout <= 0 {
		c.Storage.FetchTimeout = 30 * time.Second
	}

	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.DequeueTimeout <= 0 {
		c.Worker.DequeueTimeout = 5
	}
	if c.Worker.SweepInterval <= 0 {
		c.Worker.SweepInterval = 5 * time.Minute
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes in production")
	}

	switch c.Index.Backend {
	case IndexPgvector, IndexChromem, IndexQdrant:
	default:
		return fmt.Errorf("index.backend must be one of %s, %s, %s, got %q",
			IndexPgvector, IndexChromem, IndexQdrant, c.Index.Backend)
	}

	switch c.Storage.Backend {
	case StorageHTTP:
	case StorageLocal:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %s or %s, got %q", StorageHTTP, StorageLocal, c.Storage.Backend)
	}

	if c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("ingestion.chunk_overlap (%d) must be smaller than ingestion.chunk_size (%d)",
			c.Ingestion.ChunkOverlap, c.Ingestion.ChunkSize)
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return fmt.Errorf("openai.temperature must be between 0 and 2, got %v", c.OpenAI.Temperature)
	}
	return nil
}

// IsProduction reports whether the configuration targets production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "prod" || env == "production"
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
