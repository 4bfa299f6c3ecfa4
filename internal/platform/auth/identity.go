package auth

import "context"

type contextKey string

const identityKey contextKey = "identity"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Identity is the authenticated caller, established at login and carried in
// the request context. Operations receive it explicitly; nothing reads
// ambient globals.
type Identity struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// FromContext returns the authenticated identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey).(Identity)
	return ident, ok
}
