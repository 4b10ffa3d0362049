// README: Auth middleware; resolves the bearer token into an auth.Principal.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"dispatch/internal/auth"
)

const principalKey = "principal"

// Auth verifies the caller's token and stores the Principal on the gin and request contexts.
// The token is read from the Authorization header, the legacy x-auth-token header,
// or the token query parameter used by WebSocket clients.
func Auth(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFrom(c)
		if token == "" {
			AbortWithError(c, auth.ErrUnauthenticated.WithMessage("no token, authorization denied"))
			return
		}
		p, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, auth.ErrUnauthenticated.WithMessage("token is not valid").Wrap(err))
			return
		}
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// RequireRole rejects callers whose role is not in roles. Must run after Auth.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.Authorize(CallerPrincipal(c), roles...); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// CallerPrincipal returns the authenticated caller, or the zero Principal.
func CallerPrincipal(c *gin.Context) auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(auth.Principal); ok {
			return p
		}
	}
	return auth.Principal{}
}

func tokenFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		return ""
	}
	if t := c.GetHeader("x-auth-token"); t != "" {
		return t
	}
	return c.Query("token")
}
