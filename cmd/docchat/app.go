package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/adapters/driven/ai"
	"github.com/custodia-labs/docchat/internal/adapters/driven/auth"
	chromemindex "github.com/custodia-labs/docchat/internal/adapters/driven/chromem"
	natsevents "github.com/custodia-labs/docchat/internal/adapters/driven/nats"
	pdfparser "github.com/custodia-labs/docchat/internal/adapters/driven/pdf"
	"github.com/custodia-labs/docchat/internal/adapters/driven/postgres"
	qdrantindex "github.com/custodia-labs/docchat/internal/adapters/driven/qdrant"
	postgresqueue "github.com/custodia-labs/docchat/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/docchat/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/docchat/internal/adapters/driven/redis"
	"github.com/custodia-labs/docchat/internal/adapters/driven/storage"
	httpadapter "github.com/custodia-labs/docchat/internal/adapters/driving/http"
	"github.com/custodia-labs/docchat/internal/config"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
	"github.com/custodia-labs/docchat/internal/core/ports/driving"
	"github.com/custodia-labs/docchat/internal/core/services"
	"github.com/custodia-labs/docchat/internal/passages"
)

// app holds the wired adapters and services shared by every command
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db    *postgres.DB
	redis *redis.Client // nil selects the PostgreSQL queue and advisory locks

	index    driven.VectorIndex
	queue    driven.TaskQueue // nil when ingesting inline
	lock     driven.DistributedLock
	authAdpt driven.AuthAdapter

	ingestion *services.IngestionPipeline
	answers   *services.AnswerPipeline
	documents driving.DocumentService

	closers []func() error
}

// appOptions selects what a command needs
type appOptions struct {
	// Inline ingests on a detached goroutine instead of enqueueing
	Inline bool
}

// newApp connects every backing service named by cfg.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// ===== PostgreSQL =====
	log.Info("connecting to PostgreSQL")
	a.db, err = postgres.Connect(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)

	if err := a.db.InitSchema(ctx); err != nil {
		return nil, err
	}

	// ===== Redis (optional) =====
	if cfg.Redis.URL != "" {
		log.Info("connecting to Redis")
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(redisOpts)
		a.closers = append(a.closers, a.redis.Close)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	// ===== Vector index =====
	a.index, err = newVectorIndex(ctx, cfg, a.db, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.index.Close)

	// ===== Task queue and distributed lock (Redis if available, otherwise PostgreSQL) =====
	if a.redis != nil {
		a.lock = redisadapter.NewLock(a.redis)
	} else {
		a.lock = postgres.NewAdvisoryLock(a.db)
	}
	if !opts.Inline {
		a.queue, err = newTaskQueue(ctx, a.redis, a.db, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.queue.Close)
	}

	// ===== Events (optional) =====
	var events driven.EventPublisher
	if cfg.NATS.URL != "" {
		log.Info("connecting to NATS", zap.String("subject", cfg.NATS.Subject))
		publisher, err := natsevents.Connect(natsevents.Config{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Logger:  log,
		})
		if err != nil {
			return nil, err
		}
		events = publisher
		a.closers = append(a.closers, publisher.Close)
	}

	// ===== Models =====
	aiFactory, err := ai.NewFactory(ai.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Dimensions:     cfg.OpenAI.Dimensions,
		ChatModel:      cfg.OpenAI.ChatModel,
		Timeout:        cfg.OpenAI.Timeout,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	embedder := aiFactory.CreateEmbeddingService()
	chat := aiFactory.CreateChatModel()

	fileStorage, err := newFileStorage(cfg)
	if err != nil {
		return nil, err
	}

	// ===== Stores and services =====
	documentStore := postgres.NewDocumentStore(a.db)
	messageStore := postgres.NewMessageStore(a.db)
	a.authAdpt = auth.NewAdapter(cfg.Auth.JWTSecret)

	a.ingestion = services.NewIngestionPipeline(services.IngestionPipelineConfig{
		Documents: documentStore,
		Storage:   fileStorage,
		Parser:    pdfparser.NewParser(log),
		Splitter: passages.NewPipelineWith(passages.Options{
			Chunk: passages.ChunkConfig{
				MaxChunkSize:       cfg.Ingestion.ChunkSize,
				Overlap:            cfg.Ingestion.ChunkOverlap,
				PreserveSentences:  true,
				PreserveParagraphs: true,
			},
			Dedupe: cfg.Ingestion.Dedupe,
		}),
		Embedder:       embedder,
		Index:          a.index,
		Queue:          a.queue,
		Events:         events,
		Logger:         log,
		EmbedBatchSize: cfg.Ingestion.EmbedBatchSize,
		MaxFileBytes:   cfg.Ingestion.MaxFileBytes,
	})
	a.answers = services.NewAnswerPipeline(services.AnswerPipelineConfig{
		Documents:     documentStore,
		Conversations: messageStore,
		Embedder:      embedder,
		Index:         a.index,
		Model:         chat,
		Logger:        log,
		TopK:          cfg.Retrieval.TopK,
		HistoryLimit:  cfg.Retrieval.HistoryLimit,
		Temperature:   cfg.OpenAI.Temperature,
	})
	a.documents = services.NewDocumentService(documentStore, messageStore)

	log.Info("docchat wired",
		zap.String("index", cfg.Index.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("redis", a.redis != nil),
		zap.Bool("events", events != nil),
		zap.Bool("inline_ingestion", opts.Inline),
	)
	return a, nil
}

// newVectorIndex builds the configured VectorIndex backend
func newVectorIndex(ctx context.Context, cfg *config.Config, db *postgres.DB, log *zap.Logger) (driven.VectorIndex, error) {
	switch cfg.Index.Backend {
	case config.IndexChromem:
		return chromemindex.New(chromemindex.Config{
			Path:     cfg.Index.ChromemPath,
			Compress: cfg.Index.ChromemCompress,
			Logger:   log,
		})
	case config.IndexQdrant:
		return qdrantindex.New(qdrantindex.Config{
			Host:       cfg.Index.QdrantHost,
			Port:       cfg.Index.QdrantPort,
			APIKey:     cfg.Index.QdrantAPIKey,
			UseTLS:     cfg.Index.QdrantTLS,
			Collection: cfg.Index.QdrantCollection,
			Logger:     log,
		})
	default:
		if err := db.InitVectorSchema(ctx); err != nil {
			return nil, err
		}
		return postgres.NewVectorIndex(db), nil
	}
}

// newTaskQueue prefers Redis streams and falls back to PostgreSQL
func newTaskQueue(ctx context.Context, client *redis.Client, db *postgres.DB, log *zap.Logger) (driven.TaskQueue, error) {
	if client == nil {
		log.Info("using PostgreSQL task queue")
		return postgresqueue.NewQueue(db.DB, postgresqueue.Config{}), nil
	}

	host, _ := os.Hostname()
	log.Info("using Redis task queue")
	return redisqueue.NewQueue(ctx, client, redisqueue.Config{
		ConsumerName: fmt.Sprintf("%s-%d", host, os.Getpid()),
		Logger:       log,
	})
}

// newFileStorage builds the configured upload source
func newFileStorage(cfg *config.Config) (driven.FileStorage, error) {
	if cfg.Storage.Backend == config.StorageLocal {
		return storage.NewLocalStorage(cfg.Storage.Dir, int64(cfg.Ingestion.MaxFileBytes))
	}
	return storage.NewHTTPStorage(storage.HTTPConfig{
		BaseURL:  cfg.Storage.BaseURL,
		Timeout:  cfg.Storage.FetchTimeout,
		MaxBytes: int64(cfg.Ingestion.MaxFileBytes),
	}), nil
}

// readinessChecks lists the dependencies probed by /ready
func (a *app) readinessChecks() map[string]httpadapter.Pinger {
	checks := map[string]httpadapter.Pinger{
		"postgres": a.db,
		"index":    httpadapter.PingFunc(a.index.HealthCheck),
	}
	if a.queue != nil {
		checks["queue"] = a.queue
	}
	return checks
}

// Close releases every connection in reverse order of creation
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error during shutdown", zap.Error(err))
	}
}
