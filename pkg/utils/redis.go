package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the redis client. Zero values get conservative defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	setDur := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	out := c
	setDur(&out.DialTimeout, 3*time.Second)
	setDur(&out.ReadTimeout, 2*time.Second)
	setDur(&out.WriteTimeout, 2*time.Second)
	setDur(&out.PoolTimeout, 4*time.Second)
	setDur(&out.ConnMaxIdleTime, 5*time.Minute)
	setDur(&out.PingTimeout, 2*time.Second)
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// releaseLockScript deletes the key only while it still holds our token, so a
// holder whose TTL lapsed cannot release the next holder's lock.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLock takes an exclusive lock on key for at most ttl.
// It returns the owner token to pass to ReleaseLock; ok is false when the
// lock is held by someone else.
func AcquireLock(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (token string, ok bool, err error) {
	if err := validateLockArgs(rdb, key); err != nil {
		return "", false, err
	}
	if ttl <= 0 {
		return "", false, errors.New("ttl must be > 0")
	}
	token = uuid.NewString()
	ok, err = rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a lock taken by AcquireLock. Releasing a lock that
// expired or changed owner is a no-op.
func ReleaseLock(ctx context.Context, rdb *redis.Client, key, token string) error {
	if err := validateLockArgs(rdb, key); err != nil {
		return err
	}
	if token == "" {
		return errors.New("token is required")
	}
	if err := releaseLockScript.Run(ctx, rdb, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func validateLockArgs(rdb *redis.Client, key string) error {
	if rdb == nil {
		return errors.New("redis client is nil")
	}
	if key == "" {
		return errors.New("key is required")
	}
	return nil
}
