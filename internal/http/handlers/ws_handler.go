// README: WebSocket upgrade handler; subscribes the caller to its notification rooms.
package handlers

import (
	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/notify"
)

type WSHandler struct {
	hub *notify.Hub
}

func NewWSHandler(hub *notify.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

func (h *WSHandler) Serve(c *gin.Context) {
	// Serve writes its own handshake error response.
	_ = h.hub.Serve(c.Writer, c.Request, middleware.CallerPrincipal(c))
}
