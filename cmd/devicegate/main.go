package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"devicegate/internal/admin"
	"devicegate/internal/config"
	"devicegate/internal/devauth"
	"devicegate/internal/gateway"
	"devicegate/internal/logger"
	"devicegate/internal/proxmox"
	"devicegate/internal/ratelimit"
	"devicegate/internal/scheduler"
	"devicegate/internal/store"
)

// customRecovery is a middleware that recovers from panics and handles http.ErrAbortHandler gracefully.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func newRouter(log *slog.Logger, debugMode bool) *gin.Engine {
	router := gin.New()
	router.Use(customRecovery(log))
	if debugMode {
		router.Use(gin.Logger())
	}
	return router
}

func main() {
	// Load configuration
	cfg, warning, err := config.LoadConfig("config.yaml")
	if err != nil {
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	log := logger.New(cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	if warning != "" {
		log.Warn(warning)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize the credential store
	credStore, err := store.New(cfg.Storage.Dir)
	if err != nil {
		log.Error("Error initializing credential store", "error", err)
		os.Exit(1)
	}
	log.Info("Credential store initialized", "dir", cfg.Storage.Dir)

	// The limiter is shared by the engine and both surfaces.
	limiter := ratelimit.NewLimiter()

	engine := devauth.NewEngine(credStore, limiter, devauth.Config{
		DefaultExpiryDays:   cfg.Auth.DefaultExpiryDays,
		MaxExpiryDays:       cfg.Auth.MaxExpiryDays,
		RegisterMaxRequests: cfg.Auth.RegisterMaxRequests,
		RegisterWindow:      time.Duration(cfg.Auth.RegisterWindowMinutes) * time.Minute,
	}, log)

	// Start the expiry sweep scheduler
	sched := scheduler.NewScheduler(engine, log)
	if err := sched.Start(); err != nil {
		log.Error("Error starting scheduler", "error", err)
		os.Exit(1)
	}
	log.Info("Scheduler started")

	// Hypervisor client is optional; without it the gateway still
	// serves registration and command execution.
	var hypervisor gateway.Hypervisor
	if cfg.Proxmox.APIURL != "" {
		hypervisor = proxmox.NewClient(cfg.Proxmox)
		log.Info("Hypervisor API client initialized", "url", cfg.Proxmox.APIURL)
	} else {
		log.Warn("Hypervisor API not configured, related endpoints are disabled")
	}

	// Public gateway surface
	gatewayRouter := newRouter(log, cfg.Debug)
	registerWindow := time.Duration(cfg.Auth.RegisterWindowMinutes) * time.Minute
	gatewayHandler := gateway.NewHandler(engine, gateway.LocalExecutor{}, hypervisor, registerWindow, log)
	gateway.SetupRoutes(gatewayRouter, engine, limiter, gatewayHandler, cfg, log)

	gatewayServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.GatewayPort),
		Handler: gatewayRouter,
	}

	// Local-network admin surface
	adminRouter := newRouter(log, cfg.Debug)
	admin.SetupRoutes(adminRouter, engine, limiter, cfg, log)

	adminServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler: adminRouter,
	}

	go func() {
		log.Info("Starting gateway server", "port", cfg.Server.GatewayPort)
		if err := gatewayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start gateway server", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		log.Info("Starting admin server", "port", cfg.Server.AdminPort)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start admin server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the servers
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down servers...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sched.Stop()

	if err := gatewayServer.Shutdown(ctx); err != nil {
		log.Error("Gateway server forced to shutdown", "error", err)
	}
	if err := adminServer.Shutdown(ctx); err != nil {
		log.Error("Admin server forced to shutdown", "error", err)
	}

	log.Info("Server exiting")
}
