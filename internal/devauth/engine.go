// Package devauth implements the device authentication engine: the
// state machine over device identity from registration through
// approval, validation, revocation and expiry.
package devauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"devicegate/internal/logger"
	"devicegate/internal/model"
	"devicegate/internal/ratelimit"
	"devicegate/internal/store"
)

// tokenBytes is the amount of randomness in an issued secret (384 bits,
// URL-safe base64 encoded).
const tokenBytes = 48

// Config holds the engine's lifecycle knobs. Zero values fall back to
// the defaults below.
type Config struct {
	DefaultExpiryDays   int
	MaxExpiryDays       int
	RegisterMaxRequests int
	RegisterWindow      time.Duration
}

const (
	defaultExpiryDays   = 30
	maxExpiryDays       = 365
	registerMaxRequests = 5
	registerWindow      = 15 * time.Minute
)

// Engine owns the three persisted record kinds. It is the only
// component that mutates them; everything else sees sanitized
// projections. A single engine mutex serializes mutating operations, so
// the approve sequence (write token, remove pending request) is never
// observed half done.
type Engine struct {
	mu      sync.Mutex
	store   store.Service
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewEngine creates an engine over the given store and limiter.
func NewEngine(st store.Service, limiter *ratelimit.Limiter, cfg Config, parent *slog.Logger) *Engine {
	if cfg.DefaultExpiryDays <= 0 {
		cfg.DefaultExpiryDays = defaultExpiryDays
	}
	if cfg.MaxExpiryDays <= 0 {
		cfg.MaxExpiryDays = maxExpiryDays
	}
	if cfg.RegisterMaxRequests <= 0 {
		cfg.RegisterMaxRequests = registerMaxRequests
	}
	if cfg.RegisterWindow <= 0 {
		cfg.RegisterWindow = registerWindow
	}
	return &Engine{
		store:   st,
		limiter: limiter,
		logger:  logger.Component(parent, "devauth"),
		cfg:     cfg,
		now:     time.Now,
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Register records a pending registration request and returns its
// device_id. No token is issued at this stage. Registration is
// rate-limited per caller IP before any record is created.
func (e *Engine) Register(deviceName, clientInfo, ipAddress, userAgent string) (string, error) {
	if !e.limiter.Allow("register:"+ipAddress, e.cfg.RegisterMaxRequests, e.cfg.RegisterWindow) {
		return "", ErrRateLimited
	}

	deviceID := uuid.NewString()
	req := model.DeviceRequest{
		DeviceID:    deviceID,
		DeviceName:  deviceName,
		ClientInfo:  clientInfo,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		RequestedAt: e.now(),
		Status:      model.StatusPending,
		ApprovedBy:  "system",
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.store.UpdateRequests(func(requests map[string]model.DeviceRequest) error {
		requests[deviceID] = req
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to record registration: %w", err)
	}

	e.logger.Info("device registration requested",
		"device_name", deviceName, "device_id", deviceID, "ip", ipAddress)
	return deviceID, nil
}

// Approve promotes a pending request into an active token. It returns
// the plaintext secret exactly once; only its hash is persisted, so the
// secret can never be re-displayed. expiryDays is clamped to the
// configured maximum and defaults when zero or negative. An empty
// permissions slice grants the default set.
func (e *Engine) Approve(deviceID string, expiryDays int, permissions []string) (string, error) {
	if expiryDays <= 0 {
		expiryDays = e.cfg.DefaultExpiryDays
	}
	if expiryDays > e.cfg.MaxExpiryDays {
		expiryDays = e.cfg.MaxExpiryDays
	}
	if len(permissions) == 0 {
		permissions = model.DefaultPermissions
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	requests, err := e.store.LoadRequests()
	if err != nil {
		return "", fmt.Errorf("failed to load pending requests: %w", err)
	}
	req, ok := requests[deviceID]
	if !ok {
		return "", ErrNotFound
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	now := e.now()
	rec := model.DeviceToken{
		DeviceID:    deviceID,
		DeviceName:  req.DeviceName,
		TokenHash:   hashToken(token),
		IPAddress:   req.IPAddress,
		CreatedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, expiryDays),
		UsageCount:  0,
		Status:      model.StatusApproved,
		Permissions: permissions,
	}

	// Write the token first, then drop the pending request. If the
	// process dies between the two writes the request is still pending
	// and the issued secret was never returned, so nothing is half
	// approved from a caller's point of view.
	err = e.store.UpdateTokens(func(tokens map[string]model.DeviceToken) error {
		tokens[deviceID] = rec
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store device token: %w", err)
	}
	err = e.store.UpdateRequests(func(requests map[string]model.DeviceRequest) error {
		delete(requests, deviceID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to remove pending request: %w", err)
	}

	e.logger.Info("device approved",
		"device_name", req.DeviceName, "device_id", deviceID, "expiry_days", expiryDays)
	return token, nil
}

// Reject discards a pending registration request.
func (e *Engine) Reject(deviceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var name string
	err := e.store.UpdateRequests(func(requests map[string]model.DeviceRequest) error {
		req, ok := requests[deviceID]
		if !ok {
			return ErrNotFound
		}
		name = req.DeviceName
		delete(requests, deviceID)
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("device registration rejected", "device_name", name, "device_id", deviceID)
	return nil
}

// Validate checks a presented secret against the active token records.
// On success it updates last_used_at and usage_count and returns the
// sanitized device projection. A token observed past its expires_at is
// marked expired and persisted before the failure is reported, so the
// transition is recorded even without a sweep.
func (e *Engine) Validate(token, callerIP string) (*model.DeviceInfo, error) {
	tokenHash := hashToken(token)

	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, err := e.store.LoadTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to load device tokens: %w", err)
	}

	deviceID := ""
	for id, rec := range tokens {
		if rec.TokenHash == tokenHash {
			deviceID = id
			break
		}
	}
	if deviceID == "" {
		return nil, ErrInvalidToken
	}

	rec := tokens[deviceID]
	switch {
	case rec.Status == model.StatusRevoked:
		return nil, ErrRevoked
	case rec.Status == model.StatusExpired:
		return nil, ErrExpired
	case !rec.ExpiresAt.After(e.now()):
		err := e.store.UpdateTokens(func(tokens map[string]model.DeviceToken) error {
			if r, ok := tokens[deviceID]; ok && r.Status == model.StatusApproved {
				r.Status = model.StatusExpired
				tokens[deviceID] = r
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record token expiry: %w", err)
		}
		e.logger.Info("token expired", "device_name", rec.DeviceName, "device_id", deviceID)
		return nil, ErrExpired
	}

	now := e.now()
	var info model.DeviceInfo
	err = e.store.UpdateTokens(func(tokens map[string]model.DeviceToken) error {
		r, ok := tokens[deviceID]
		if !ok {
			return ErrInvalidToken
		}
		r.LastUsedAt = &now
		r.UsageCount++
		tokens[deviceID] = r
		info = r.Info()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record token use: %w", err)
	}

	e.logger.Debug("token validated",
		"device_name", info.DeviceName, "device_id", deviceID, "ip", callerIP)
	return &info, nil
}

// Revoke marks a device's token revoked and writes the companion audit
// record. The token record itself is retained.
func (e *Engine) Revoke(deviceID, reason string) error {
	if reason == "" {
		reason = "manual revocation"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var rec model.DeviceToken
	err := e.store.UpdateTokens(func(tokens map[string]model.DeviceToken) error {
		r, ok := tokens[deviceID]
		if !ok {
			return ErrNotFound
		}
		r.Status = model.StatusRevoked
		tokens[deviceID] = r
		rec = r
		return nil
	})
	if err != nil {
		return err
	}

	revokedAt := e.now()
	err = e.store.UpdateRevocations(func(revocations map[string]model.RevocationRecord) error {
		revocations[deviceID] = model.RevocationRecord{
			DeviceName: rec.DeviceName,
			TokenHash:  rec.TokenHash,
			RevokedAt:  revokedAt,
			Reason:     reason,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write revocation record: %w", err)
	}

	e.logger.Info("device revoked",
		"device_name", rec.DeviceName, "device_id", deviceID, "reason", reason)
	return nil
}

// SweepExpired marks every approved token past its expires_at as
// expired and reports how many changed. Safe to call redundantly; the
// document is rewritten only when something changed.
func (e *Engine) SweepExpired() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	expired := 0
	err := e.store.UpdateTokens(func(tokens map[string]model.DeviceToken) error {
		for id, r := range tokens {
			if r.Status == model.StatusApproved && !r.ExpiresAt.After(now) {
				r.Status = model.StatusExpired
				tokens[id] = r
				expired++
			}
		}
		if expired == 0 {
			return errNoChange
		}
		return nil
	})
	if err != nil && err != errNoChange {
		return 0, fmt.Errorf("failed to sweep expired tokens: %w", err)
	}

	if expired > 0 {
		e.logger.Info("expired tokens swept", "count", expired)
	}
	return expired, nil
}

// errNoChange aborts an Update without rewriting the document.
var errNoChange = fmt.Errorf("no change")

// PendingRequests returns the pending registrations, oldest first.
func (e *Engine) PendingRequests() ([]model.DeviceRequest, error) {
	requests, err := e.store.LoadRequests()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending requests: %w", err)
	}
	out := make([]model.DeviceRequest, 0, len(requests))
	for _, req := range requests {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// Devices returns sanitized projections of every token record, oldest
// first. Token hashes never leave the engine.
func (e *Engine) Devices() ([]model.DeviceInfo, error) {
	tokens, err := e.store.LoadTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to load device tokens: %w", err)
	}
	out := make([]model.DeviceInfo, 0, len(tokens))
	for _, rec := range tokens {
		out = append(out, rec.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Stats counts records by status for the admin dashboard. Approved
// tokens already past expires_at count as expired even before a sweep
// records the transition.
func (e *Engine) Stats() (model.AuthStats, error) {
	var stats model.AuthStats

	requests, err := e.store.LoadRequests()
	if err != nil {
		return stats, fmt.Errorf("failed to load pending requests: %w", err)
	}
	tokens, err := e.store.LoadTokens()
	if err != nil {
		return stats, fmt.Errorf("failed to load device tokens: %w", err)
	}
	revocations, err := e.store.LoadRevocations()
	if err != nil {
		return stats, fmt.Errorf("failed to load revocation records: %w", err)
	}

	now := e.now()
	stats.PendingRequests = len(requests)
	stats.RevokedDevices = len(revocations)
	stats.TotalDevices = len(tokens)
	for _, rec := range tokens {
		switch {
		case rec.Status == model.StatusExpired,
			rec.Status == model.StatusApproved && !rec.ExpiresAt.After(now):
			stats.ExpiredDevices++
		case rec.Status == model.StatusApproved:
			stats.ActiveDevices++
		}
	}
	return stats, nil
}
