// ABOUTME: Authenticated admin identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating it via context

package auth

import "context"

// Identity is the authenticated caller of an admin endpoint.
type Identity struct {
	Subject string
	Role    string
}

// IsAdmin reports whether the identity may use admin endpoints.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

type identityKey struct{}

// WithIdentity returns a new context with id attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity in ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
