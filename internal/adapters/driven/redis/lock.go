package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

const lockPrefix = "docchat:lock:"

// Lock implements DistributedLock with SET NX and a TTL.
// Each instance stamps the key with its own holder ID so it can only
// release locks it took.
type Lock struct {
	client redis.UniversalClient
	holder string
}

// NewLock creates a new Redis-backed distributed lock.
func NewLock(client redis.UniversalClient) *Lock {
	hostname, _ := os.Hostname()
	return &Lock{
		client: client,
		holder: fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()),
	}
}

// Acquire takes the lock if no one holds it. The key expires after ttl
// so a crashed holder cannot block other instances for good.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockPrefix+name, l.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// releaseScript deletes the key only while it still carries our holder ID.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Release drops the lock if this instance holds it.
func (l *Lock) Release(ctx context.Context, name string) error {
	err := releaseScript.Run(ctx, l.client, []string{lockPrefix + name}, l.holder).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Holder returns the ID this instance writes into the locks it takes.
func (l *Lock) Holder() string {
	return l.holder
}
