// Package middleware provides the request-admission gates composed in
// front of the gateway and admin surfaces: rate limiting, bearer-token
// authentication with permission enforcement, and local-network origin
// restriction. The gates are explicit handlers composed in a fixed
// order (rate limit, then origin or token, then permissions) so the
// failure precedence is a testable property of the route setup.
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"devicegate/internal/devauth"
	"devicegate/internal/logger"
	"devicegate/internal/model"
	"devicegate/internal/ratelimit"
)

// DeviceInfoKey is the gin context key under which RequireDeviceToken
// stores the authenticated device's sanitized projection.
const DeviceInfoKey = "device_info"

// localNetworks is the admin-surface origin allow list: private ranges
// plus loopback. Anything outside is rejected regardless of credentials.
var localNetworks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
}

// ClientIP resolves the caller's address: first hop of X-Forwarded-For,
// then X-Real-IP, then the transport peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsLocalNetwork reports whether addr parses as an IP inside one of the
// allow-listed private/loopback ranges. Unparseable addresses are not
// local.
func IsLocalNetwork(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, network := range localNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// bearerToken extracts the credential from an Authorization: Bearer
// header; empty when absent or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RateLimit rejects callers exceeding max requests per window, keyed by
// keyPrefix plus caller IP. Runs before any state lookup so floods are
// dropped cheaply.
func RateLimit(limiter *ratelimit.Limiter, keyPrefix string, max int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyPrefix + ":" + ClientIP(c.Request)
		if !limiter.Allow(key, max, window) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
			})
			return
		}
		c.Next()
	}
}

// RequireDeviceToken authenticates the request's bearer credential
// against the engine and, when the route declares required permissions,
// rejects devices missing any of them. On success the sanitized device
// projection is attached to the context under DeviceInfoKey.
func RequireDeviceToken(engine *devauth.Engine, parent *slog.Logger, permissions ...string) gin.HandlerFunc {
	log := logger.Component(parent, "middleware")
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		clientIP := ClientIP(c.Request)
		info, err := engine.Validate(token, clientIP)
		if err != nil {
			status := http.StatusUnauthorized
			switch {
			case errors.Is(err, devauth.ErrInvalidToken),
				errors.Is(err, devauth.ErrRevoked),
				errors.Is(err, devauth.ErrExpired):
				log.Warn("authentication failed", "ip", clientIP, "reason", err.Error())
			default:
				log.Error("authentication service error", "ip", clientIP, "error", err)
				status = http.StatusInternalServerError
			}
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(status, gin.H{
				"error": fmt.Sprintf("authentication failed: %s", reasonFor(err)),
			})
			return
		}

		var missing []string
		for _, p := range permissions {
			if !info.HasPermission(p) {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "missing required permissions: " + strings.Join(missing, ", "),
			})
			return
		}

		c.Set(DeviceInfoKey, info)
		c.Next()
	}
}

// reasonFor maps engine failures to the user-visible reason. Storage
// failures are not described to the caller.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, devauth.ErrInvalidToken):
		return devauth.ErrInvalidToken.Error()
	case errors.Is(err, devauth.ErrRevoked):
		return devauth.ErrRevoked.Error()
	case errors.Is(err, devauth.ErrExpired):
		return devauth.ErrExpired.Error()
	default:
		return "authentication service error"
	}
}

// Device returns the authenticated device info attached by
// RequireDeviceToken, or nil when the route is unauthenticated.
func Device(c *gin.Context) *model.DeviceInfo {
	v, ok := c.Get(DeviceInfoKey)
	if !ok {
		return nil
	}
	info, _ := v.(*model.DeviceInfo)
	return info
}

// RequireLocalNetwork restricts a route group to callers originating
// inside the private/loopback allow list.
func RequireLocalNetwork(parent *slog.Logger) gin.HandlerFunc {
	log := logger.Component(parent, "middleware")
	return func(c *gin.Context) {
		clientIP := ClientIP(c.Request)
		if !IsLocalNetwork(clientIP) {
			log.Warn("non-local access attempt", "ip", clientIP, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "access restricted to local network only",
			})
			return
		}
		c.Next()
	}
}
