// Package session keeps the per-browser-session hint that links a dial to the
// call record it created, for signals that arrive without a carrier id we know.
package session

import (
	"context"
	"errors"
	"time"
)

// Hint is the weak, session-scoped pointer to the last dialed call.
type Hint struct {
	TempCallID   string    `json:"temp_call_id"`
	CallRecordID string    `json:"call_record_id"`
	Destination  string    `json:"destination"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store holds one live hint per session; Put overwrites.
type Store interface {
	Put(ctx context.Context, sessionID string, h Hint) error
	Get(ctx context.Context, sessionID string) (Hint, bool, error)
}

var ErrNoSession = errors.New("session id required")

type ctxKey struct{}

// WithID stores the session id in ctx.
func WithID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, sessionID)
}

// IDFromContext returns the session id set by WithID or Middleware.
func IDFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxKey{}).(string)
	return s, ok && s != ""
}
