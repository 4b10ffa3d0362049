// README: Authenticated caller identity and role, carried through context.
package auth

import (
	"context"

	"dispatch/internal/types"
)

type Role string

const (
	RoleManager Role = "manager"
	RolePartner Role = "delivery_partner"
)

func (r Role) Valid() bool {
	return r == RoleManager || r == RolePartner
}

// Principal represents the authenticated caller resolved from a token.
type Principal struct {
	ID   types.ID
	Name string
	Role Role
}

func (p Principal) Authenticated() bool {
	return p.ID != "" && p.Role.Valid()
}

type principalKey struct{}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from context (if any).
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
