package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docchat/internal/core/domain"
)

func setupQueue(t *testing.T, cfg Config) (*miniredis.Miniredis, *redis.Client, *Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewQueue(context.Background(), client, cfg)
	require.NoError(t, err)
	return mr, client, q
}

func TestNewQueue(t *testing.T) {
	_, client, q := setupQueue(t, Config{})

	assert.NotEmpty(t, q.consumerName)
	assert.Equal(t, defaultClaimTimeout, q.claimTimeout)

	// Creating the group twice is fine
	_, err := NewQueue(context.Background(), client, Config{ConsumerName: "w2"})
	assert.NoError(t, err)

	_, err = NewQueue(context.Background(), nil, Config{})
	assert.Error(t, err)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	_, _, q := setupQueue(t, Config{ConsumerName: "w1"})
	ctx := context.Background()

	task := domain.NewIngestDocumentTask("user-1", "doc-1")
	require.NoError(t, q.Enqueue(ctx, task))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingCount)

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "doc-1", got.DocumentID())
	assert.Equal(t, "user-1", got.OwnerID)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingCount)
	assert.Equal(t, int64(1), stats.ProcessingCount)

	require.NoError(t, q.Ack(ctx, task.ID))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.ProcessingCount)
	assert.Equal(t, int64(1), stats.CompletedCount)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	_, _, q := setupQueue(t, Config{})

	task, err := q.DequeueWithTimeout(context.Background(), 1)
	assert.NoError(t, err)
	assert.Nil(t, task)
}

func TestQueue_DequeueCancelled(t *testing.T) {
	_, _, q := setupQueue(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	task, err := q.Dequeue(ctx)
	assert.NoError(t, err)
	assert.Nil(t, task)
}

func TestQueue_NackRetriesThenFails(t *testing.T) {
	mr, _, q := setupQueue(t, Config{})
	ctx := context.Background()

	task := domain.NewIngestDocumentTask("user-1", "doc-1")
	task.MaxAttempts = 2
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, got.ID, "db down"))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.Equal(t, "db down", stored.Error)
	assert.True(t, stored.ScheduledFor.After(time.Now()))

	members, err := mr.ZMembers(scheduledTasks)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, members)

	// Pretend the backoff passed
	stored.ScheduledFor = time.Now()
	_, err = mr.ZRem(scheduledTasks, task.ID)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, stored))
	_, err = q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, task.ID, "db still down"))

	stored, err = q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FailedCount)
}

func TestQueue_ScheduledTaskPromoted(t *testing.T) {
	mr, _, q := setupQueue(t, Config{})
	ctx := context.Background()

	task := domain.NewIngestDocumentTask("user-1", "doc-1")
	task.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "future task must wait")

	// Make it due
	_, err = mr.ZAdd(scheduledTasks, float64(time.Now().Add(-time.Second).Unix()), task.ID)
	require.NoError(t, err)

	got, err = q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestQueue_ClaimAbandoned(t *testing.T) {
	_, client, crashed := setupQueue(t, Config{ConsumerName: "crashed"})
	ctx := context.Background()

	task := domain.NewIngestDocumentTask("user-1", "doc-1")
	require.NoError(t, crashed.Enqueue(ctx, task))

	got, err := crashed.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)

	survivor, err := NewQueue(ctx, client, Config{ConsumerName: "survivor", ClaimTimeout: time.Millisecond})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	claimed, err := survivor.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, 2, claimed.Attempts)

	require.NoError(t, survivor.Ack(ctx, claimed.ID))
}

func TestQueue_GetTaskMissing(t *testing.T) {
	_, _, q := setupQueue(t, Config{})

	_, err := q.GetTask(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	assert.True(t, errors.Is(q.Ack(context.Background(), "missing"), domain.ErrNotFound))
	assert.True(t, errors.Is(q.Nack(context.Background(), "missing", "x"), domain.ErrNotFound))
}

func TestQueue_Ping(t *testing.T) {
	mr, _, q := setupQueue(t, Config{})

	assert.NoError(t, q.Ping(context.Background()))
	mr.Close()
	assert.Error(t, q.Ping(context.Background()))
	assert.NoError(t, q.Close())
}
