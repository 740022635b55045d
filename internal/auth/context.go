package auth

import (
	"context"
	"errors"
)

// ErrNoIdentity means the request carried no verified token.
var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is the verified caller of a request.
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

// WithIdentity stores the caller in ctx. The billing user and the token
// subject are the same id.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{UserID: userID, Role: role})
}

// IdentityFrom returns the caller set by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

func UserID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok {
		return id.UserID, nil
	}
	return "", ErrNoIdentity
}

func Role(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", ErrNoIdentity
}
