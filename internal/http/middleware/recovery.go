// README: Recovery middleware; a panicking handler yields a 500 envelope instead of a dropped connection.
package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"dispatch/internal/apperr"
)

func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("handler panicked")
				AbortWithError(c, apperr.New(apperr.Internal, "internal server error").Wrap(fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}
