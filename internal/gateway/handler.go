// Package gateway is the public surface of the server: device
// registration plus the token-gated remote-operation endpoints. All
// authentication decisions happen in the admission middleware; handlers
// here are glue between HTTP and their collaborators.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"devicegate/internal/devauth"
	"devicegate/internal/logger"
	"devicegate/internal/middleware"
	"devicegate/internal/proxmox"
)

// Hypervisor is the slice of the Proxmox client the gateway handlers
// use; an interface so tests can stub it.
type Hypervisor interface {
	Nodes() (json.RawMessage, error)
	NodeStatus(node string) (json.RawMessage, error)
	VMs() (json.RawMessage, error)
	VMStatus(node string, vmid int) (json.RawMessage, error)
	VMAction(node string, vmid int, action string) (json.RawMessage, error)
	Do(method, path string, body any) (json.RawMessage, error)
}

type Handler struct {
	engine         *devauth.Engine
	executor       Executor
	hypervisor     Hypervisor
	registerWindow time.Duration
	logger         *slog.Logger
}

// NewHandler wires the gateway handlers. hypervisor may be nil when the
// Proxmox API is not configured; the affected endpoints then report the
// feature as unavailable. registerWindow is the engine's registration
// rate-limit window, echoed as Retry-After on throttled registrations.
func NewHandler(engine *devauth.Engine, executor Executor, hypervisor Hypervisor, registerWindow time.Duration, parent *slog.Logger) *Handler {
	return &Handler{
		engine:         engine,
		executor:       executor,
		hypervisor:     hypervisor,
		registerWindow: registerWindow,
		logger:         logger.Component(parent, "gateway"),
	}
}

type registerRequest struct {
	DeviceName string `json:"device_name" binding:"required"`
	ClientInfo string `json:"client_info"`
}

// RegisterHandler accepts a registration request and returns its
// device_id. A token is never issued here; the device waits for
// administrator approval.
func (h *Handler) RegisterHandler(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_name is required"})
		return
	}

	clientIP := middleware.ClientIP(c.Request)
	deviceID, err := h.engine.Register(req.DeviceName, req.ClientInfo, clientIP, c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, devauth.ErrRateLimited) {
			c.Header("Retry-After", strconv.Itoa(int(h.registerWindow.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, please try again later"})
			return
		}
		h.logger.Error("registration failed", "ip", clientIP, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"message":   "Device registration requested. Waiting for admin approval.",
		"next_steps": "Your registration request has been submitted. An administrator " +
			"will review and approve your device. You will receive a token once approved.",
	})
}

type executeRequest struct {
	Command        string `json:"command" binding:"required"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ExecuteHandler runs a shell command through the executor collaborator.
func (h *Handler) ExecuteHandler(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	device := middleware.Device(c)
	h.logger.Info("executing command", "device_id", device.DeviceID, "command", req.Command)

	result, err := h.executor.Execute(c.Request.Context(), req.Command, time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		h.logger.Error("command execution failed", "device_id", device.DeviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "command execution failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) requireHypervisor(c *gin.Context) bool {
	if h.hypervisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "hypervisor API is not configured, enable it in configuration to use this feature",
		})
		return false
	}
	return true
}

func (h *Handler) hypervisorResult(c *gin.Context, data json.RawMessage, err error, extra gin.H) {
	if err != nil {
		h.logger.Error("hypervisor API call failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"data": data, "status": "success"}
	for k, v := range extra {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}

// ListVMsHandler lists VMs across the cluster.
func (h *Handler) ListVMsHandler(c *gin.Context) {
	if !h.requireHypervisor(c) {
		return
	}
	data, err := h.hypervisor.VMs()
	h.hypervisorResult(c, data, err, nil)
}

// VMStatusHandler returns the status of one VM.
func (h *Handler) VMStatusHandler(c *gin.Context) {
	if !h.requireHypervisor(c) {
		return
	}
	vmid, err := strconv.Atoi(c.Param("vmid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vmid must be an integer"})
		return
	}
	node := c.Param("node")
	data, apiErr := h.hypervisor.VMStatus(node, vmid)
	h.hypervisorResult(c, data, apiErr, gin.H{"node": node, "vmid": vmid})
}

// VMActionHandler performs a lifecycle action on a VM.
func (h *Handler) VMActionHandler(c *gin.Context) {
	if !h.requireHypervisor(c) {
		return
	}
	vmid, err := strconv.Atoi(c.Param("vmid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vmid must be an integer"})
		return
	}
	node, action := c.Param("node"), c.Param("action")

	device := middleware.Device(c)
	h.logger.Info("vm action requested",
		"device_id", device.DeviceID, "node", node, "vmid", vmid, "action", action)

	data, apiErr := h.hypervisor.VMAction(node, vmid, action)
	if errors.Is(apiErr, proxmox.ErrInvalidAction) {
		c.JSON(http.StatusBadRequest, gin.H{"error": apiErr.Error()})
		return
	}
	h.hypervisorResult(c, data, apiErr, gin.H{"node": node, "vmid": vmid, "action": action})
}

// NodeStatusHandler returns status details for one node, or the node
// list when the node parameter is "all".
func (h *Handler) NodeStatusHandler(c *gin.Context) {
	if !h.requireHypervisor(c) {
		return
	}
	node := c.Param("node")
	var (
		data json.RawMessage
		err  error
	)
	if node == "all" {
		data, err = h.hypervisor.Nodes()
	} else {
		data, err = h.hypervisor.NodeStatus(node)
	}
	h.hypervisorResult(c, data, err, gin.H{"node": node})
}

type apiCallRequest struct {
	Method string `json:"method" binding:"required"`
	Path   string `json:"path" binding:"required"`
	Data   any    `json:"data"`
}

var validAPIMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// APICallHandler passes a raw call through to the hypervisor API.
func (h *Handler) APICallHandler(c *gin.Context) {
	if !h.requireHypervisor(c) {
		return
	}
	var req apiCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "method and path are required"})
		return
	}
	method := strings.ToUpper(req.Method)
	if !validAPIMethods[method] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid method, valid methods are: GET, POST, PUT, DELETE"})
		return
	}

	device := middleware.Device(c)
	h.logger.Info("raw API call", "device_id", device.DeviceID, "method", method, "path", req.Path)

	data, err := h.hypervisor.Do(method, req.Path, req.Data)
	h.hypervisorResult(c, data, err, gin.H{"method": method, "path": req.Path})
}

// HealthHandler is the unauthenticated liveness endpoint.
func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "devicegate"})
}

// RootHandler describes the service to unauthenticated callers.
func (h *Handler) RootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "devicegate",
		"message": "This gateway requires device authentication. Register your device first, " +
			"then get approval from an administrator.",
		"register": "POST /auth/register",
	})
}

var _ Hypervisor = (*proxmox.Client)(nil)
