// README: Base handler utilities (JSON helpers, binding, error mapping).
package handlers

import (
	"github.com/gin-gonic/gin"

	"dispatch/internal/apperr"
	"dispatch/internal/http/middleware"
)

var errBadJSON = apperr.New(apperr.InvalidInput, "invalid request body")

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, err error) {
	middleware.AbortWithError(c, err)
}

// bindJSON decodes the request body into dst, writing a 400 envelope on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, errBadJSON.WithMessage("invalid request body: "+err.Error()))
		return false
	}
	return true
}

type messageResponse struct {
	Message string `json:"message"`
}
