// README: Registration, login and profile handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/auth"
	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/user"
)

type AuthHandler struct {
	users *user.Service
}

func NewAuthHandler(svc *user.Service) *AuthHandler {
	return &AuthHandler{users: svc}
}

type registerReq struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

type sessionResponse struct {
	Token string     `json:"token"`
	User  *user.User `json:"user"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerReq
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.users.Register(c.Request.Context(), user.RegisterCommand{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     auth.Role(req.Role),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, sessionResponse{Token: sess.Token, User: sess.User})
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginReq
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sessionResponse{Token: sess.Token, User: sess.User})
}

func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.users.Me(c.Request.Context(), middleware.CallerPrincipal(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, u)
}

type passwordReq struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req passwordReq
	if !bindJSON(c, &req) {
		return
	}
	if err := h.users.ChangePassword(c.Request.Context(), middleware.CallerPrincipal(c), req.CurrentPassword, req.NewPassword); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, messageResponse{Message: "Password updated successfully"})
}
