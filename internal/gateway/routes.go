package gateway

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"devicegate/internal/config"
	"devicegate/internal/devauth"
	"devicegate/internal/middleware"
	"devicegate/internal/ratelimit"
)

// SetupRoutes attaches the public surface to router. Gate order on the
// operation endpoints is fixed: rate limit, then token, then the
// route's required permission.
func SetupRoutes(router *gin.Engine, engine *devauth.Engine, limiter *ratelimit.Limiter, handler *Handler, cfg *config.Config, logger *slog.Logger) {
	router.GET("/", handler.RootHandler)
	router.GET("/health", handler.HealthHandler)

	// Registration has its own stricter limit inside the engine; the
	// surface-wide limit here only drops floods early.
	window := time.Duration(cfg.RateLimit.GatewayWindowSeconds) * time.Second
	rateLimited := middleware.RateLimit(limiter, "gateway", cfg.RateLimit.GatewayMaxRequests, window)

	router.POST("/auth/register", rateLimited, handler.RegisterHandler)

	apiGroup := router.Group("/api")
	apiGroup.Use(rateLimited)
	{
		apiGroup.POST("/execute",
			middleware.RequireDeviceToken(engine, logger, "execute_command"), handler.ExecuteHandler)
		apiGroup.GET("/vms",
			middleware.RequireDeviceToken(engine, logger, "list_vms"), handler.ListVMsHandler)
		apiGroup.GET("/vms/:node/:vmid",
			middleware.RequireDeviceToken(engine, logger, "vm_status"), handler.VMStatusHandler)
		apiGroup.POST("/vms/:node/:vmid/:action",
			middleware.RequireDeviceToken(engine, logger, "vm_action"), handler.VMActionHandler)
		apiGroup.GET("/nodes/:node",
			middleware.RequireDeviceToken(engine, logger, "node_status"), handler.NodeStatusHandler)
		apiGroup.POST("/proxmox",
			middleware.RequireDeviceToken(engine, logger, "proxmox_api"), handler.APICallHandler)
	}
}
