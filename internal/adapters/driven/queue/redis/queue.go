package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

const (
	taskStream     = "docchat:tasks"
	taskGroup      = "docchat:workers"
	scheduledTasks = "docchat:scheduled"
	taskKeyPrefix  = "docchat:task:"
	completedKey   = "docchat:tasks:completed"
	failedKey      = "docchat:tasks:failed"

	consumerPrefix = "worker-"

	taskTTL             = 24 * time.Hour
	defaultClaimTimeout = 5 * time.Minute
)

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// Queue implements TaskQueue on a Redis Stream with one consumer group.
// Task bodies live in plain keys; the stream only carries task IDs.
// Delayed retries wait in a sorted set until they are due.
type Queue struct {
	client       redis.UniversalClient
	consumerName string
	claimTimeout time.Duration
	logger       *zap.Logger
}

// Config holds Queue options.
type Config struct {
	// ConsumerName should be unique per worker instance.
	ConsumerName string

	// ClaimTimeout is how long a delivered task may stay unacknowledged
	// before another worker takes it over. Default 5m.
	ClaimTimeout time.Duration

	Logger *zap.Logger
}

// NewQueue creates a new Redis-backed task queue, creating the consumer
// group on first use.
func NewQueue(ctx context.Context, client redis.UniversalClient, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}

	q := &Queue{
		client:       client,
		consumerName: cfg.ConsumerName,
		claimTimeout: cfg.ClaimTimeout,
		logger:       cfg.Logger,
	}
	if q.consumerName == "" {
		q.consumerName = consumerPrefix + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if q.claimTimeout <= 0 {
		q.claimTimeout = defaultClaimTimeout
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}

	err := client.XGroupCreateMkStream(ctx, taskStream, taskGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return q, nil
}

// Enqueue stores the task and either streams it or parks it until ScheduledFor.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+task.ID, data, taskTTL)
	if task.ScheduledFor.After(time.Now()) {
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
	} else {
		pipe.XAdd(ctx, streamArgs(task))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func streamArgs(task *domain.Task) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: taskStream,
		Values: map[string]any{
			"task_id":  task.ID,
			"type":     string(task.Type),
			"owner_id": task.OwnerID,
		},
	}
}

// Dequeue blocks until a task is available or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.DequeueWithTimeout(ctx, 0)
}

// DequeueWithTimeout waits up to timeout seconds for a task; 0 blocks until ctx ends.
// Abandoned deliveries are reclaimed before new ones are read.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if err := q.promoteScheduledTasks(ctx); err != nil {
		q.logger.Warn("failed to promote scheduled tasks", zap.Error(err))
	}

	if task, err := q.claimAbandonedTask(ctx); err != nil {
		q.logger.Warn("failed to claim abandoned tasks", zap.Error(err))
	} else if task != nil {
		return task, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumerName,
		Streams:  []string{taskStream, ">"},
		Count:    1,
		Block:    time.Duration(timeout) * time.Second,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.deliver(ctx, streams[0].Messages[0])
}

// deliver loads the task behind a stream message and marks it processing.
// Messages whose task body is gone are dropped.
func (q *Queue) deliver(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	taskID, _ := msg.Values["task_id"].(string)
	if taskID == "" {
		q.dropMessage(ctx, msg.ID)
		return nil, nil
	}

	task, err := q.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		q.logger.Warn("dropping stream entry without task body", zap.String("task_id", taskID))
		q.dropMessage(ctx, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.MarkProcessing()
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+task.ID, data, taskTTL)
	pipe.Set(ctx, msgKey(task.ID), msg.ID, taskTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark task processing: %w", err)
	}
	return task, nil
}

func (q *Queue) dropMessage(ctx context.Context, msgID string) {
	q.client.XAck(ctx, taskStream, taskGroup, msgID)
	q.client.XDel(ctx, taskStream, msgID)
}

func msgKey(taskID string) string {
	return taskKeyPrefix + taskID + ":msg"
}

// Ack marks the task completed and removes its stream entry.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.MarkCompleted()
	return q.settle(ctx, task, completedKey)
}

// Nack schedules a retry with backoff, or fails the task once its
// attempts are used up.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if task.CanRetry() {
		task.Retry(reason)
		return q.settle(ctx, task, "")
	}
	task.MarkFailed(reason)
	return q.settle(ctx, task, failedKey)
}

// settle writes the task back and releases its stream entry. A retried
// task is parked in the scheduled set; finished ones bump counter.
func (q *Queue) settle(ctx context.Context, task *domain.Task, counter string) error {
	msgID, err := q.client.Get(ctx, msgKey(task.ID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get message ID: %w", err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, taskStream, taskGroup, msgID)
		pipe.XDel(ctx, taskStream, msgID)
	}
	pipe.Set(ctx, taskKeyPrefix+task.ID, data, taskTTL)
	pipe.Del(ctx, msgKey(task.ID))
	if counter != "" {
		pipe.Incr(ctx, counter)
	} else {
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{
			Score:  float64(task.ScheduledFor.Unix()),
			Member: task.ID,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to settle task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID. Unknown or expired tasks yield domain.ErrNotFound.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	pipe := q.client.Pipeline()
	streamLen := pipe.XLen(ctx, taskStream)
	pending := pipe.XPending(ctx, taskStream, taskGroup)
	scheduled := pipe.ZCard(ctx, scheduledTasks)
	completed := pipe.Get(ctx, completedKey)
	failed := pipe.Get(ctx, failedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	stats := &driven.QueueStats{}
	var inFlight int64
	if p, err := pending.Result(); err == nil {
		inFlight = p.Count
	}
	stats.ProcessingCount = inFlight
	stats.PendingCount = streamLen.Val() - inFlight + scheduled.Val()
	stats.CompletedCount, _ = completed.Int64()
	stats.FailedCount, _ = failed.Int64()
	return stats, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is shared.
func (q *Queue) Close() error {
	return nil
}

// promoteScheduledTasks moves due tasks from the scheduled set to the stream.
func (q *Queue) promoteScheduledTasks(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledTasks, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, taskID := range due {
		// ZRem decides which worker promotes the task
		removed, err := q.client.ZRem(ctx, scheduledTasks, taskID).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}

		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			q.logger.Warn("dropping scheduled task", zap.String("task_id", taskID), zap.Error(err))
			continue
		}
		if err := q.client.XAdd(ctx, streamArgs(task)).Err(); err != nil {
			return err
		}
	}
	return nil
}

// claimAbandonedTask takes over a delivery another worker left unacknowledged
// for longer than the claim timeout.
func (q *Queue) claimAbandonedTask(ctx context.Context) (*domain.Task, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: taskStream,
		Group:  taskGroup,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   q.claimTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   taskStream,
			Group:    taskGroup,
			Consumer: q.consumerName,
			MinIdle:  q.claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		task, err := q.deliver(ctx, claimed[0])
		if err != nil {
			return nil, err
		}
		if task != nil {
			q.logger.Info("claimed abandoned task",
				zap.String("task_id", task.ID),
				zap.String("previous_consumer", p.Consumer),
			)
			return task, nil
		}
	}
	return nil, nil
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
