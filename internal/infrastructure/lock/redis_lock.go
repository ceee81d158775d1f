package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tiktok-shop-finance-layer/internal/ports"

	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long a crashed sync run can keep a connection locked.
const lockTTL = 15 * time.Minute

// RedisSyncLocker serializes sync runs per connection across processes
// using SET NX with a TTL.
type RedisSyncLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisSyncLocker creates a redis-backed sync locker.
func NewRedisSyncLocker(client *redis.Client) ports.SyncLocker {
	return &RedisSyncLocker{client: client, prefix: "sync-lock:"}
}

// TryLock acquires the connection's lock, returning false if another run
// holds it.
func (l *RedisSyncLocker) TryLock(ctx context.Context, connectionID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+connectionID, "1", lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the connection's lock.
func (l *RedisSyncLocker) Unlock(ctx context.Context, connectionID string) error {
	if err := l.client.Del(ctx, l.prefix+connectionID).Err(); err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// LocalSyncLocker is the in-process fallback used when redis is not
// configured. Single-instance deployments get the same serialization
// guarantee without the extra dependency at runtime.
type LocalSyncLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalSyncLocker creates an in-process sync locker.
func NewLocalSyncLocker() ports.SyncLocker {
	return &LocalSyncLocker{held: make(map[string]bool)}
}

// TryLock acquires the in-process lock for the connection.
func (l *LocalSyncLocker) TryLock(_ context.Context, connectionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[connectionID] {
		return false, nil
	}
	l.held[connectionID] = true
	return true, nil
}

// Unlock releases the in-process lock.
func (l *LocalSyncLocker) Unlock(_ context.Context, connectionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, connectionID)
	return nil
}
