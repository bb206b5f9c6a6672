// Package admin is the local-network administrative API over the
// engine's management operations.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"devicegate/internal/devauth"
	"devicegate/internal/logger"
)

type Handler struct {
	engine *devauth.Engine
	logger *slog.Logger
}

func NewHandler(engine *devauth.Engine, parent *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger.Component(parent, "admin")}
}

// StatsHandler reports record counts by status.
func (h *Handler) StatsHandler(c *gin.Context) {
	stats, err := h.engine.Stats()
	if err != nil {
		h.logger.Error("failed to collect stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// PendingHandler lists registration requests awaiting review.
func (h *Handler) PendingHandler(c *gin.Context) {
	requests, err := h.engine.PendingRequests()
	if err != nil {
		h.logger.Error("failed to list pending requests", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending requests"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending_requests": requests, "count": len(requests)})
}

// DevicesHandler lists sanitized device records.
func (h *Handler) DevicesHandler(c *gin.Context) {
	devices, err := h.engine.Devices()
	if err != nil {
		h.logger.Error("failed to list devices", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

type approveRequest struct {
	ExpiryDays  int      `json:"expiry_days"`
	Permissions []string `json:"permissions"`
}

// ApproveHandler promotes a pending request and returns the plaintext
// token. This response is the only time the secret is ever visible;
// losing it means the device must register again.
func (h *Handler) ApproveHandler(c *gin.Context) {
	deviceID := c.Param("device_id")

	var req approveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	token, err := h.engine.Approve(deviceID, req.ExpiryDays, req.Permissions)
	if err != nil {
		if errors.Is(err, devauth.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device request not found"})
			return
		}
		h.logger.Error("approval failed", "device_id", deviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "approval failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Device approved successfully",
		"device_id": deviceID,
		"token":     token,
		"warning":   "Save this token now. It cannot be retrieved again.",
	})
}

// RejectHandler discards a pending registration request.
func (h *Handler) RejectHandler(c *gin.Context) {
	deviceID := c.Param("device_id")

	if err := h.engine.Reject(deviceID); err != nil {
		if errors.Is(err, devauth.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device request not found"})
			return
		}
		h.logger.Error("rejection failed", "device_id", deviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rejection failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Device request rejected", "device_id": deviceID})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// RevokeHandler revokes an approved device's access.
func (h *Handler) RevokeHandler(c *gin.Context) {
	deviceID := c.Param("device_id")

	var req revokeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if err := h.engine.Revoke(deviceID, req.Reason); err != nil {
		if errors.Is(err, devauth.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("revocation failed", "device_id", deviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revocation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Device access revoked successfully", "device_id": deviceID})
}

// HealthHandler is the admin surface's liveness endpoint.
func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "devicegate-admin"})
}
