package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Ensure Queue implements TaskQueue
var _ driven.TaskQueue = (*Queue)(nil)

const (
	taskColumns = `id, type, owner_id, payload, status, attempts, max_attempts,
		error, created_at, updated_at, started_at, completed_at, scheduled_for`

	defaultPollInterval = time.Second
	defaultClaimTimeout = 5 * time.Minute
)

// Queue implements TaskQueue on the tasks table using SELECT ... FOR UPDATE
// SKIP LOCKED. It is the fallback when Redis is not configured.
type Queue struct {
	db           *sql.DB
	pollInterval time.Duration
	claimTimeout time.Duration
}

// Config holds Queue options.
type Config struct {
	// PollInterval is how often an empty queue is rechecked while waiting. Default 1s.
	PollInterval time.Duration

	// ClaimTimeout is how long a task may stay processing before another
	// worker may take it over. Default 5m.
	ClaimTimeout time.Duration
}

// NewQueue creates a new PostgreSQL-backed task queue.
// The tasks table is created by the postgres adapter's InitSchema.
func NewQueue(db *sql.DB, cfg Config) *Queue {
	q := &Queue{
		db:           db,
		pollInterval: cfg.PollInterval,
		claimTimeout: cfg.ClaimTimeout,
	}
	if q.pollInterval <= 0 {
		q.pollInterval = defaultPollInterval
	}
	if q.claimTimeout <= 0 {
		q.claimTimeout = defaultClaimTimeout
	}
	return q
}

// Enqueue adds a task to the queue
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}

	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO tasks (id, type, owner_id, payload, status, attempts, max_attempts,
			error, created_at, updated_at, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = q.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		task.OwnerID,
		payload,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		task.Error,
		task.CreatedAt,
		task.UpdatedAt,
		task.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Dequeue polls until a task is available or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.poll(ctx, nil)
}

// DequeueWithTimeout polls for up to timeout seconds. Returns nil, nil when
// nothing became available.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if timeout <= 0 {
		return q.poll(ctx, nil)
	}
	deadline := time.NewTimer(time.Duration(timeout) * time.Second)
	defer deadline.Stop()
	return q.poll(ctx, deadline.C)
}

func (q *Queue) poll(ctx context.Context, deadline <-chan time.Time) (*domain.Task, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		task, err := q.claimNext(ctx)
		if err != nil || task != nil {
			return task, err
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-deadline:
			return nil, nil
		case <-ticker.C:
		}
	}
}

// claimNext atomically moves the oldest due task to processing. Tasks left
// processing past the claim timeout count as abandoned and are taken too.
func (q *Queue) claimNext(ctx context.Context) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1, started_at = NOW(), updated_at = NOW(), attempts = attempts + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE (status = $2 AND scheduled_for <= NOW())
			   OR (status = $1 AND started_at < NOW() - $3::interval)
			ORDER BY scheduled_for, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	task, err := scanTask(q.db.QueryRowContext(ctx, query,
		domain.TaskStatusProcessing,
		domain.TaskStatusPending,
		fmt.Sprintf("%d seconds", int(q.claimTimeout.Seconds())),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// Ack marks a task as completed
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	query := `
		UPDATE tasks
		SET status = $1, completed_at = NOW(), updated_at = NOW(), error = ''
		WHERE id = $2
	`
	result, err := q.db.ExecContext(ctx, query, domain.TaskStatusCompleted, taskID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Nack schedules a retry with backoff, or fails the task once its attempts are used up
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	if task.CanRetry() {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}

	query := `
		UPDATE tasks
		SET status = $1, error = $2, updated_at = $3, scheduled_for = $4
		WHERE id = $5
	`
	if _, err := q.db.ExecContext(ctx, query, task.Status, task.Error, task.UpdatedAt, task.ScheduledFor, taskID); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(q.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func scanTask(row *sql.Row) (*domain.Task, error) {
	var task domain.Task
	var payload []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Type,
		&task.OwnerID,
		&payload,
		&task.Status,
		&task.Attempts,
		&task.MaxAttempts,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&completedAt,
		&task.ScheduledFor,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &driven.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}

		switch domain.TaskStatus(status) {
		case domain.TaskStatusPending:
			stats.PendingCount = count
		case domain.TaskStatusProcessing:
			stats.ProcessingCount = count
		case domain.TaskStatusCompleted:
			stats.CompletedCount = count
		case domain.TaskStatusFailed:
			stats.FailedCount = count
		}
	}
	return stats, rows.Err()
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op; the connection pool is managed by the caller
func (q *Queue) Close() error {
	return nil
}
