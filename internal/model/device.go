package model

import "time"

// Device lifecycle states. Transitions are one-directional: a pending
// request is promoted to approved (or discarded), and an approved token
// only ever moves to revoked or expired.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRevoked  = "revoked"
	StatusExpired  = "expired"
)

// DefaultPermissions is the permission set granted at approval when the
// administrator does not specify one.
var DefaultPermissions = []string{
	"execute_command",
	"list_vms",
	"vm_status",
	"vm_action",
	"node_status",
	"proxmox_api",
}

// DeviceRequest is a pending registration awaiting administrator review.
// It is deleted exactly once, either by approval or rejection.
type DeviceRequest struct {
	DeviceID    string     `json:"device_id"`
	DeviceName  string     `json:"device_name"`
	ClientInfo  string     `json:"client_info"`
	IPAddress   string     `json:"ip_address"`
	UserAgent   string     `json:"user_agent"`
	RequestedAt time.Time  `json:"requested_at"`
	Status      string     `json:"status"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string     `json:"approved_by"`
	Notes       string     `json:"notes"`
}

// DeviceToken is an active or formerly-active credential. Only the
// SHA-256 hash of the secret is ever stored; the plaintext is returned
// once at approval and never again. Records are retained after
// revocation or expiry for audit.
type DeviceToken struct {
	DeviceID    string     `json:"device_id"`
	DeviceName  string     `json:"device_name"`
	TokenHash   string     `json:"token_hash"`
	IPAddress   string     `json:"ip_address"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UsageCount  int64      `json:"usage_count"`
	Status      string     `json:"status"`
	Permissions []string   `json:"permissions"`
}

// RevocationRecord is the write-once audit entry kept alongside a
// revoked device's token record.
type RevocationRecord struct {
	DeviceName string    `json:"device_name"`
	TokenHash  string    `json:"token_hash"`
	RevokedAt  time.Time `json:"revoked_at"`
	Reason     string    `json:"reason"`
}

// DeviceInfo is the sanitized projection of a DeviceToken handed to
// middleware, handlers and the admin surface. It never carries the
// token hash.
type DeviceInfo struct {
	DeviceID    string     `json:"device_id"`
	DeviceName  string     `json:"device_name"`
	IPAddress   string     `json:"ip_address"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UsageCount  int64      `json:"usage_count"`
	Status      string     `json:"status"`
	Permissions []string   `json:"permissions"`
}

// Info returns the sanitized view of a token record.
func (t *DeviceToken) Info() DeviceInfo {
	perms := make([]string, len(t.Permissions))
	copy(perms, t.Permissions)
	return DeviceInfo{
		DeviceID:    t.DeviceID,
		DeviceName:  t.DeviceName,
		IPAddress:   t.IPAddress,
		CreatedAt:   t.CreatedAt,
		ExpiresAt:   t.ExpiresAt,
		LastUsedAt:  t.LastUsedAt,
		UsageCount:  t.UsageCount,
		Status:      t.Status,
		Permissions: perms,
	}
}

// HasPermission reports whether the device's permission set contains name.
func (d *DeviceInfo) HasPermission(name string) bool {
	for _, p := range d.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// AuthStats summarises the engine's records by status for the admin
// dashboard.
type AuthStats struct {
	PendingRequests int `json:"pending_requests"`
	ActiveDevices   int `json:"active_devices"`
	ExpiredDevices  int `json:"expired_devices"`
	RevokedDevices  int `json:"revoked_devices"`
	TotalDevices    int `json:"total_devices"`
}
