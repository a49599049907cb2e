package auth

import (
	"context"
	"errors"
)

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity attaches a verified caller Identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the verified caller Identity from the context.
func GetIdentity(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok {
		return Identity{}, errors.New("no identity in context")
	}
	return id, nil
}

// MustGetAgentID panics if no identity is present; use only where
// middleware guarantees one.
func MustGetAgentID(ctx context.Context) string {
	id, err := GetIdentity(ctx)
	if err != nil {
		panic(err)
	}
	return id.AgentID
}
