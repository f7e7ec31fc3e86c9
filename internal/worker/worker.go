package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
	"github.com/custodia-labs/docchat/internal/core/ports/driving"
	"github.com/custodia-labs/docchat/internal/core/services"
)

// errDropTask marks tasks that can never succeed and must not be redelivered
var errDropTask = errors.New("task dropped")

// Worker processes ingestion tasks from the task queue.
// Ingestion failures are recorded on the document by the pipeline, so a
// task is only nacked when the metadata store itself could not be reached.
type Worker struct {
	taskQueue driven.TaskQueue
	ingestion driving.IngestionService
	janitor   *services.Janitor
	logger    *zap.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds
	errorBackoff   time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue driven.TaskQueue
	Ingestion driving.IngestionService

	// Janitor is optional; when set it runs alongside the task loops
	Janitor *services.Janitor

	Logger         *zap.Logger
	Concurrency    int // Number of concurrent task processors
	DequeueTimeout int // Seconds to wait for a task before checking again
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		ingestion:      cfg.Ingestion,
		janitor:        cfg.Janitor,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		errorBackoff:   time.Second,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		zap.Int("concurrency", w.concurrency),
		zap.Int("dequeue_timeout", w.dequeueTimeout),
	)

	if w.janitor != nil {
		w.janitor.Start(ctx)
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker. In-flight tasks run to completion.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.janitor != nil {
		w.janitor.Stop()
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("worker stop signal received")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", zap.Error(err))
			select {
			case <-time.After(w.errorBackoff):
			case <-ctx.Done():
			case <-w.stopCh:
			}
			continue
		}

		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask processes a single task.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *zap.Logger) {
	logger = logger.With(
		zap.String("task_id", task.ID),
		zap.String("task_type", string(task.Type)),
		zap.String("owner_id", task.OwnerID),
		zap.Int("attempt", task.Attempts),
	)
	logger.Info("processing task")

	startTime := time.Now()
	var err error

	switch task.Type {
	case domain.TaskTypeIngestDocument:
		err = w.handleIngestDocument(ctx, task)
	default:
		err = fmt.Errorf("%w: unknown task type %s", errDropTask, task.Type)
	}

	duration := time.Since(startTime)

	if err != nil && !errors.Is(err, errDropTask) {
		logger.Error("task failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)

		// Nack the task so it can be retried
		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", zap.NamedError("nack_error", nackErr))
		}
		return
	}

	if err != nil {
		logger.Warn("dropping task", zap.Error(err))
	} else {
		logger.Info("task completed", zap.Duration("duration", duration))
	}

	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", zap.NamedError("ack_error", ackErr))
	}
}

// handleIngestDocument runs ingestion for the task's document.
// A missing document or one that already left PROCESSING (a duplicate
// delivery) is dropped; any other error is an infrastructure failure.
func (w *Worker) handleIngestDocument(ctx context.Context, task *domain.Task) error {
	documentID := task.DocumentID()
	if documentID == "" {
		return fmt.Errorf("%w: document_id not found in task payload", errDropTask)
	}

	result, err := w.ingestion.Ingest(ctx, documentID)
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		return fmt.Errorf("%w: %w", errDropTask, err)
	case err != nil:
		return err
	}

	if result.Status == domain.IngestionFailed {
		w.logger.Info("document ingestion failed",
			zap.String("document_id", documentID),
			zap.String("reason", result.Error),
		)
	}
	return nil
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
