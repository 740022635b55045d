package topup

import (
	"context"
	"sync"
	"time"

	"callbilling/pkg/logger"
	"callbilling/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Locker keeps concurrent debits of one user from charging twice.
type Locker interface {
	TryLock(ctx context.Context, userID string) (release func(), ok bool, err error)
}

// RedisLocker is a per-user lock shared by every API instance. The TTL
// bounds how long a crashed holder blocks the next top-up.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func lockKey(userID string) string { return "autotopup:lock:" + userID }

func (l *RedisLocker) TryLock(ctx context.Context, userID string) (func(), bool, error) {
	key := lockKey(userID)
	token, ok, err := utils.AcquireLock(ctx, l.rdb, key, l.ttl)
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		// Released even when the request context is already cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseLock(rctx, l.rdb, key, token); err != nil {
			logger.From(ctx).Warn("auto top-up lock release failed", "user_id", userID, "err", err)
		}
	}, true, nil
}

// MemoryLocker is the single-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]bool{}}
}

func (l *MemoryLocker) TryLock(ctx context.Context, userID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[userID] {
		return func() {}, false, nil
	}
	l.held[userID] = true
	return func() {
		l.mu.Lock()
		delete(l.held, userID)
		l.mu.Unlock()
	}, true, nil
}
