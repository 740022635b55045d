package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-instance runs.
type MemoryStore struct {
	mu    sync.Mutex
	hints map[string]memoryHint
	ttl   time.Duration
	clock func() time.Time
}

type memoryHint struct {
	hint    Hint
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &MemoryStore{hints: map[string]memoryHint{}, ttl: ttl, clock: time.Now}
}

func (s *MemoryStore) Put(ctx context.Context, sessionID string, h Hint) error {
	if sessionID == "" {
		return ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints[sessionID] = memoryHint{hint: h, expires: s.clock().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (Hint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.hints[sessionID]
	if !ok {
		return Hint{}, false, nil
	}
	if !s.clock().Before(m.expires) {
		delete(s.hints, sessionID)
		return Hint{}, false, nil
	}
	return m.hint, true, nil
}
