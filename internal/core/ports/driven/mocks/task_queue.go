package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Ensure MockTaskQueue implements TaskQueue
var _ driven.TaskQueue = (*MockTaskQueue)(nil)

// MockTaskQueue is a FIFO in-memory task queue
type MockTaskQueue struct {
	mu          sync.Mutex
	pending     []*domain.Task
	tasks       map[string]*domain.Task
	failEnqueue error
}

// NewMockTaskQueue creates a new MockTaskQueue
func NewMockTaskQueue() *MockTaskQueue {
	return &MockTaskQueue{tasks: make(map[string]*domain.Task)}
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEnqueue != nil {
		return m.failEnqueue
	}
	m.pending = append(m.pending, task)
	m.tasks[task.ID] = task
	return nil
}

func (m *MockTaskQueue) Dequeue(ctx context.Context) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, nil
	}
	task := m.pending[0]
	m.pending = m.pending[1:]
	task.MarkProcessing()
	return task, nil
}

func (m *MockTaskQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	return m.Dequeue(ctx)
}

func (m *MockTaskQueue) Ack(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[taskID]; ok {
		task.MarkCompleted()
	}
	return nil
}

func (m *MockTaskQueue) Nack(ctx context.Context, taskID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	if task.CanRetry() {
		task.Retry(reason)
		m.pending = append(m.pending, task)
	} else {
		task.MarkFailed(reason)
	}
	return nil
}

func (m *MockTaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return task, nil
}

func (m *MockTaskQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &driven.QueueStats{}
	for _, task := range m.tasks {
		switch task.Status {
		case domain.TaskStatusPending:
			stats.PendingCount++
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (m *MockTaskQueue) Ping(ctx context.Context) error {
	return nil
}

func (m *MockTaskQueue) Close() error {
	return nil
}

// Helper methods for testing

// Pending returns the tasks waiting to be dequeued
func (m *MockTaskQueue) Pending() []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Task(nil), m.pending...)
}

func (m *MockTaskQueue) SetFailEnqueue(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEnqueue = err
}
