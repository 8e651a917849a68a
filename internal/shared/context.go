package shared

import "context"

// Identity describes the caller on whose behalf a tool call runs. The
// transport layer supplies it; absence maps to the guest identity, never
// to an authentication bypass.
type Identity struct {
	Name  string
	Admin bool
}

// GuestIdentity is the named low-privilege identity used when the caller
// supplies none.
const GuestIdentity = "guest"

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity. The second return is
// false when no identity was attached.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
