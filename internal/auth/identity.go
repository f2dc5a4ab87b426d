// Package auth verifies bearer tokens issued by the identity provider and exposes
// the resulting caller identity to HTTP handlers.
package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ClientIDHeader carries the client's preferred sync identity. It is a hint only.
const ClientIDHeader = "X-Client-Sync-Id"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is an authenticated caller.
type Identity struct {
	UserID   uuid.UUID
	Email    string
	Audience string
	// ClientID is uuid.Nil when the client sent no usable X-Client-Sync-Id.
	ClientID uuid.UUID
}

// Verifier turns a raw bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
