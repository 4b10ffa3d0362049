// README: Partner availability and partner listing handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/user"
)

type UserHandler struct {
	users *user.Service
}

func NewUserHandler(svc *user.Service) *UserHandler {
	return &UserHandler{users: svc}
}

type availabilityReq struct {
	IsAvailable *bool `json:"isAvailable" binding:"required"`
}

func (h *UserHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.users.SetAvailability(c.Request.Context(), middleware.CallerPrincipal(c), *req.IsAvailable)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, u)
}

func (h *UserHandler) AvailablePartners(c *gin.Context) {
	h.listPartners(c, true)
}

func (h *UserHandler) AllPartners(c *gin.Context) {
	h.listPartners(c, false)
}

func (h *UserHandler) listPartners(c *gin.Context, onlyAvailable bool) {
	partners, err := h.users.ListPartners(c.Request.Context(), middleware.CallerPrincipal(c), onlyAvailable)
	if err != nil {
		writeError(c, err)
		return
	}
	if partners == nil {
		partners = []*user.User{}
	}
	writeJSON(c, http.StatusOK, partners)
}
