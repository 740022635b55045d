package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store useful for tests and local runs.
// Pair it with utils.MemoryTxRunner for rollback; GetForUpdate does not lock.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]CallRecord
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]CallRecord{}, clock: time.Now}
}

// WithClock overrides the store clock.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Snapshot() func() {
	s.mu.Lock()
	saved := make(map[string]CallRecord, len(s.records))
	for k, v := range s.records {
		saved[k] = v
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.records = saved
		s.mu.Unlock()
	}
}

func (s *MemoryStore) carrierOwner(carrierCallID string) (string, bool) {
	for id, r := range s.records {
		if r.CarrierCallID == carrierCallID {
			return id, true
		}
	}
	return "", false
}

func (s *MemoryStore) Create(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.UserID == "" || rec.CarrierCallID == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.carrierOwner(rec.CarrierCallID); taken {
		return CallRecord{}, ErrDuplicateCarrierID
	}

	now := s.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = CallStatusInitiated
	}
	if rec.DestinationNumber == "" {
		rec.DestinationNumber = UnknownDestination
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.records[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) GetForUpdate(ctx context.Context, id string) (CallRecord, error) {
	return s.Get(ctx, id)
}

func (s *MemoryStore) GetByCarrierID(ctx context.Context, carrierCallID string) (CallRecord, error) {
	if carrierCallID == "" {
		return CallRecord{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.carrierOwner(carrierCallID); ok {
		return s.records[id], nil
	}
	return CallRecord{}, ErrNotFound
}

func (s *MemoryStore) FindRecentByUserAndDestination(ctx context.Context, userID, destination string, around time.Time, window time.Duration) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := around.Add(-window), around.Add(window)
	var out []CallRecord
	for _, r := range s.records {
		if r.UserID != userID || r.DestinationNumber != destination {
			continue
		}
		if r.StartedAt.Before(lo) || r.StartedAt.After(hi) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) FindLatestProvisional(ctx context.Context, userID string, notBefore time.Time) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best CallRecord
	found := false
	for _, r := range s.records {
		if r.UserID != userID || !r.IsProvisional() {
			continue
		}
		if !notBefore.IsZero() && r.CreatedAt.Before(notBefore) {
			continue
		}
		if !found || r.CreatedAt.After(best.CreatedAt) {
			best = r
			found = true
		}
	}
	if !found {
		return CallRecord{}, ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) Settle(ctx context.Context, id string, p SettleParams) (CallRecord, error) {
	if err := validateSettle(id, p); err != nil {
		return CallRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || !settleable(r) {
		return CallRecord{}, ErrAlreadySettled
	}
	if p.CarrierCallID != "" && p.CarrierCallID != r.CarrierCallID {
		if owner, taken := s.carrierOwner(p.CarrierCallID); taken && owner != id {
			return CallRecord{}, ErrDuplicateCarrierID
		}
		r.CarrierCallID = p.CarrierCallID
	}
	if r.DestinationNumber == UnknownDestination && p.DestinationNumber != "" {
		r.DestinationNumber = p.DestinationNumber
	}
	if p.Direction != "" {
		r.Direction = p.Direction
	}

	now := s.clock().UTC()
	ended := p.EndedAt
	if ended.IsZero() {
		ended = now
	}
	r.Status = p.Status
	r.DurationSeconds = p.DurationSeconds
	r.CreditsUsed = p.CreditsUsed
	r.RelatedCallID = p.RelatedCallID
	r.EndedAt = &ended
	r.UpdatedAt = now

	s.records[id] = r
	return r, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []CallRecord
	for _, r := range s.records {
		if r.UserID != userID {
			continue
		}
		if !from.IsZero() && r.StartedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !r.StartedAt.Before(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
