package appctx

import "context"

type ctxKey string

const identityKey ctxKey = "identity"

// Identity is the authenticated principal attached to a relay request.
type Identity struct {
	UserID   string
	Username string
}

// WithIdentity stores the authenticated identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated identity from the context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
