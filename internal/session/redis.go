package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "callhint:"

// RedisStore keeps hints in Redis with a TTL so abandoned sessions expire on their own.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, h Hint) error {
	if sessionID == "" {
		return ErrNoSession
	}
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, keyPrefix+sessionID, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (Hint, bool, error) {
	if sessionID == "" {
		return Hint{}, false, nil
	}
	b, err := s.rdb.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Hint{}, false, nil
		}
		return Hint{}, false, fmt.Errorf("session get: %w", err)
	}
	var h Hint
	if err := json.Unmarshal(b, &h); err != nil {
		return Hint{}, false, fmt.Errorf("session decode: %w", err)
	}
	return h, true, nil
}
