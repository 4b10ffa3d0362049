// README: Single capability check consumed by every service operation.
package auth

import "dispatch/internal/apperr"

var (
	ErrUnauthenticated = apperr.New(apperr.Unauthenticated, "authentication required")
	ErrForbidden       = apperr.New(apperr.Forbidden, "insufficient role permissions")
)

// Authorize succeeds iff p is authenticated and, when roles is non-empty, p.Role is one of them.
func Authorize(p Principal, roles ...Role) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	if len(roles) == 0 {
		return nil
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return ErrForbidden
}
