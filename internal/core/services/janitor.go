package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

const janitorLockName = "stuck-documents"

// Janitor periodically fails documents that never reached a terminal
// ingestion status, e.g. because the worker running them crashed.
//
// For multi-worker deployments, configure a DistributedLock so only one
// instance sweeps per interval.
type Janitor struct {
	pipeline *IngestionPipeline
	lock     driven.DistributedLock
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	interval     time.Duration
	stuckAfter   time.Duration
	lockTTL      time.Duration
	lockRequired bool
}

// JanitorConfig holds configuration for the janitor.
type JanitorConfig struct {
	Pipeline *IngestionPipeline
	Lock     driven.DistributedLock // optional
	Logger   *zap.Logger

	Interval   time.Duration // how often to sweep (default: 5m)
	StuckAfter time.Duration // PROCESSING age that counts as stuck (default: 30m)
	LockTTL    time.Duration // default: 2x Interval

	// LockOptional lets the sweep run when the lock backend errors.
	// A lock held by another instance always skips the sweep.
	LockOptional bool
}

// NewJanitor creates a new janitor.
func NewJanitor(cfg JanitorConfig) *Janitor {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	stuckAfter := cfg.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 30 * time.Minute
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * interval
	}

	return &Janitor{
		pipeline:     cfg.Pipeline,
		lock:         cfg.Lock,
		logger:       log,
		interval:     interval,
		stuckAfter:   stuckAfter,
		lockTTL:      lockTTL,
		lockRequired: !cfg.LockOptional,
	}
}

// Start begins the sweep loop. It runs until Stop is called or ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	j.logger.Info("janitor starting",
		zap.Duration("interval", j.interval),
		zap.Duration("stuck_after", j.stuckAfter),
	)

	go j.run(ctx)
}

// Stop stops the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopCh)
	done := j.doneCh
	j.mu.Unlock()

	<-done

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()

	j.logger.Info("janitor stopped")
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many documents it failed.
func (j *Janitor) Sweep(ctx context.Context) int {
	if j.lock != nil {
		acquired, err := j.lock.Acquire(ctx, janitorLockName, j.lockTTL)
		switch {
		case err != nil:
			j.logger.Warn("failed to acquire janitor lock", zap.Error(err))
			if j.lockRequired {
				return 0
			}
		case !acquired:
			j.logger.Debug("janitor lock held by another instance, skipping sweep")
			return 0
		default:
			defer func() {
				if err := j.lock.Release(ctx, janitorLockName); err != nil {
					j.logger.Warn("failed to release janitor lock", zap.Error(err))
				}
			}()
		}
	}

	failed, err := j.pipeline.FailStuck(ctx, j.stuckAfter)
	if err != nil {
		j.logger.Error("stuck document sweep failed", zap.Int("failed", failed), zap.Error(err))
		return failed
	}
	if failed > 0 {
		j.logger.Info("failed stuck documents", zap.Int("count", failed))
	}
	return failed
}
