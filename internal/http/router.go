// README: HTTP router registration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"dispatch/internal/auth"
	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
)

func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log), corsMiddleware(s.deps.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	authed := middleware.Auth(s.deps.Verifier)
	manager := middleware.RequireRole(auth.RoleManager)
	partner := middleware.RequireRole(auth.RolePartner)

	authHandler := handlers.NewAuthHandler(s.deps.User)
	a := r.Group("/api/auth")
	a.POST("/register", authHandler.Register)
	a.POST("/login", authHandler.Login)
	a.GET("/user", authed, authHandler.Me)
	a.PUT("/password", authed, authHandler.ChangePassword)

	orderHandler := handlers.NewOrderHandler(s.deps.Order)
	o := r.Group("/api/orders", authed)
	o.POST("", manager, orderHandler.Create)
	o.GET("", manager, orderHandler.List)
	o.GET("/partner/assigned", partner, orderHandler.Assigned)
	o.GET("/:orderId", orderHandler.Get)
	o.GET("/:orderId/events", manager, orderHandler.Events)
	o.PUT("/:orderId/assign", manager, orderHandler.Assign)
	o.PUT("/:orderId/status", orderHandler.SetStatus)
	o.PUT("/:orderId/prep-time", manager, orderHandler.UpdatePrepTime)

	userHandler := handlers.NewUserHandler(s.deps.User)
	u := r.Group("/api/users", authed)
	u.PUT("/availability", partner, userHandler.SetAvailability)
	u.GET("/delivery-partners", manager, userHandler.AvailablePartners)
	u.GET("/delivery-partners/all", manager, userHandler.AllPartners)

	if s.deps.Hub != nil {
		r.GET("/ws", authed, handlers.NewWSHandler(s.deps.Hub).Serve)
	}
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Auth-Token"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
