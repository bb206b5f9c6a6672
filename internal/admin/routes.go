package admin

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"devicegate/internal/config"
	"devicegate/internal/devauth"
	"devicegate/internal/middleware"
	"devicegate/internal/ratelimit"
)

// SetupRoutes attaches the administrative API to router. The rate
// limiter runs first so floods are counted and dropped before the
// origin check; only then are local-network callers let through.
func SetupRoutes(router *gin.Engine, engine *devauth.Engine, limiter *ratelimit.Limiter, cfg *config.Config, logger *slog.Logger) {
	handler := NewHandler(engine, logger)

	window := time.Duration(cfg.RateLimit.AdminWindowSeconds) * time.Second
	router.Use(
		middleware.RateLimit(limiter, "admin", cfg.RateLimit.AdminMaxRequests, window),
		middleware.RequireLocalNetwork(logger),
	)

	router.GET("/health", handler.HealthHandler)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/stats", handler.StatsHandler)
		apiGroup.GET("/pending", handler.PendingHandler)
		apiGroup.GET("/devices", handler.DevicesHandler)
		apiGroup.POST("/approve/:device_id", handler.ApproveHandler)
		apiGroup.DELETE("/reject/:device_id", handler.RejectHandler)
		apiGroup.POST("/revoke/:device_id", handler.RevokeHandler)
	}
}
