package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock holds locks in memory with TTL expiry.
// The Fn hooks replace the default behaviour when set.
type MockDistributedLock struct {
	mu       sync.Mutex
	locks    map[string]time.Time
	acquires int
	releases int

	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ReleaseFn func(name string) error
	PingFn    func() error
}

// NewMockDistributedLock creates a new mock distributed lock.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{
		locks: make(map[string]time.Time),
	}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	m.acquires++
	m.mu.Unlock()

	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, held := m.locks[name]; held && time.Now().Before(expiry) {
		return false, nil
	}
	m.locks[name] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	m.releases++
	m.mu.Unlock()

	if m.ReleaseFn != nil {
		return m.ReleaseFn(name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, name)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// Held reports whether name is currently locked
func (m *MockDistributedLock) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, held := m.locks[name]
	return held && time.Now().Before(expiry)
}

// Calls returns how many times Acquire and Release were called
func (m *MockDistributedLock) Calls() (acquires, releases int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires, m.releases
}
