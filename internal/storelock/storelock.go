// Package storelock serialises read-modify-write merges on the same article
// store across processes.
//
// Without a locker, two runs merging into one store concurrently can lose
// an update. RedisLocker takes a per-store lease in Redis; MemoryLocker does
// the same inside one process.
package storelock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "news-collector:store-lock:"

// ErrLocked is returned when the lease could not be taken before the wait ran out.
var ErrLocked = errors.New("store is locked by another run")

// Unlock releases a lease taken by Lock.
type Unlock func() error

// Locker hands out exclusive leases keyed by store path.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// LockError carries the store key a lease was requested for.
type LockError struct {
	Key   string `json:"key"`
	Cause error  `json:"cause"`
}

func (e *LockError) Error() string {
	return fmt.Sprintf("failed to lock store '%s': %v", e.Key, e.Cause)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker takes leases with SET NX PX and releases them only if the
// token still matches, so an expired lease is never released by its old owner.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

func NewRedisLocker(addr string, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		wait:   wait,
		poll:   100 * time.Millisecond,
	}
}

// Ping checks that Redis is reachable.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, &LockError{Key: key, Cause: err}
		}
		if ok {
			return func() error {
				// the caller's ctx may already be cancelled
				if err := releaseScript.Run(context.Background(), l.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
					return &LockError{Key: key, Cause: err}
				}
				return nil
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, &LockError{Key: key, Cause: ErrLocked}
		}

		select {
		case <-ctx.Done():
			return nil, &LockError{Key: key, Cause: ctx.Err()}
		case <-time.After(l.poll):
		}
	}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// MemoryLocker is an in-process Locker. It never waits: a held key fails
// immediately with ErrLocked.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (m *MemoryLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LockError{Key: key, Cause: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, &LockError{Key: key, Cause: ErrLocked}
	}
	m.held[key] = true

	var once sync.Once
	return func() error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
		return nil
	}, nil
}

// Held reports whether key is currently locked.
func (m *MemoryLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[key]
}
