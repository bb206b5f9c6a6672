package devauth

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicegate/internal/logger"
	"devicegate/internal/model"
	"devicegate/internal/ratelimit"
	"devicegate/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir)
	require.NoError(t, err)
	e := NewEngine(st, ratelimit.NewLimiter(), Config{}, logger.Discard())
	return e, dir
}

func register(t *testing.T, e *Engine, name string) string {
	t.Helper()
	id, err := e.Register(name, "test client", "192.168.1.10", "go-test")
	require.NoError(t, err)
	return id
}

func TestRegisterCreatesPendingRequest(t *testing.T) {
	e, _ := newTestEngine(t)

	id := register(t, e, "laptop")
	assert.NotEmpty(t, id)

	pending, err := e.PendingRequests()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].DeviceID)
	assert.Equal(t, "laptop", pending[0].DeviceName)
	assert.Equal(t, model.StatusPending, pending[0].Status)

	// No token exists yet for the device.
	devices, err := e.Devices()
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestRegisterRateLimited(t *testing.T) {
	e, _ := newTestEngine(t)

	for i := 0; i < 5; i++ {
		_, err := e.Register("laptop", "", "10.0.0.9", "go-test")
		require.NoError(t, err)
	}
	_, err := e.Register("laptop", "", "10.0.0.9", "go-test")
	assert.ErrorIs(t, err, ErrRateLimited)

	// A different caller IP is unaffected.
	_, err = e.Register("laptop", "", "10.0.0.10", "go-test")
	assert.NoError(t, err)

	// The rejected attempt must not have created a record.
	pending, err := e.PendingRequests()
	require.NoError(t, err)
	assert.Len(t, pending, 6)
}

func TestApproveIssuesTokenOnce(t *testing.T) {
	e, dir := newTestEngine(t)
	id := register(t, e, "laptop")

	token, err := e.Approve(id, 0, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// The pending request was consumed; a second approval fails.
	_, err = e.Approve(id, 0, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	pending, err := e.PendingRequests()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Only the hash is persisted, never the plaintext secret.
	data, err := os.ReadFile(filepath.Join(dir, "approved_devices.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), token)
	assert.Contains(t, string(data), hashToken(token))
}

func TestApproveUnknownDevice(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Approve("no-such-device", 0, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveClampsExpiry(t *testing.T) {
	e, _ := newTestEngine(t)
	start := time.Now()
	id := register(t, e, "laptop")

	_, err := e.Approve(id, 10_000, nil)
	require.NoError(t, err)

	devices, err := e.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	maxExpiry := start.AddDate(0, 0, 365).Add(time.Minute)
	assert.True(t, devices[0].ExpiresAt.Before(maxExpiry),
		"expiry %v should be clamped to 365 days", devices[0].ExpiresAt)
}

func TestApproveDefaultAndCustomPermissions(t *testing.T) {
	e, _ := newTestEngine(t)

	id := register(t, e, "laptop")
	_, err := e.Approve(id, 0, nil)
	require.NoError(t, err)

	id2 := register(t, e, "sensor")
	_, err = e.Approve(id2, 0, []string{"list_vms"})
	require.NoError(t, err)

	devices, err := e.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	byName := map[string][]string{}
	for _, d := range devices {
		byName[d.DeviceName] = d.Permissions
	}
	assert.ElementsMatch(t, model.DefaultPermissions, byName["laptop"])
	assert.Equal(t, []string{"list_vms"}, byName["sensor"])
}

func TestRejectRemovesPendingRequest(t *testing.T) {
	e, _ := newTestEngine(t)
	id := register(t, e, "laptop")

	require.NoError(t, e.Reject(id))
	assert.ErrorIs(t, e.Reject(id), ErrNotFound)

	pending, err := e.PendingRequests()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestValidateSuccessUpdatesUsage(t *testing.T) {
	e, _ := newTestEngine(t)
	id := register(t, e, "laptop")
	token, err := e.Approve(id, 0, nil)
	require.NoError(t, err)

	info, err := e.Validate(token, "192.168.1.20")
	require.NoError(t, err)
	assert.Equal(t, id, info.DeviceID)
	assert.Equal(t, "laptop", info.DeviceName)
	assert.EqualValues(t, 1, info.UsageCount)
	require.NotNil(t, info.LastUsedAt)

	first := *info.LastUsedAt
	info, err = e.Validate(token, "192.168.1.20")
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.UsageCount)
	assert.False(t, info.LastUsedAt.Before(first))
}

func TestValidateUnknownToken(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Validate("not-a-real-token", "192.168.1.20")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeBlocksValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	id := register(t, e, "laptop")
	token, err := e.Approve(id, 0, nil)
	require.NoError(t, err)

	require.NoError(t, e.Revoke(id, "compromised"))

	_, err = e.Validate(token, "192.168.1.20")
	assert.ErrorIs(t, err, ErrRevoked)

	// The token record is retained and a companion audit entry written.
	devices, err := e.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, model.StatusRevoked, devices[0].Status)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RevokedDevices)
}

func TestRevokeUnknownDevice(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.ErrorIs(t, e.Revoke("no-such-device", ""), ErrNotFound)
}

func TestExpiredTokenTransitionIsPersisted(t *testing.T) {
	e, _ := newTestEngine(t)
	id := register(t, e, "laptop")
	token, err := e.Approve(id, 1, nil)
	require.NoError(t, err)

	// Advance the clock two days.
	e.now = func() time.Time { return time.Now().AddDate(0, 0, 2) }

	_, err = e.Validate(token, "192.168.1.20")
	assert.ErrorIs(t, err, ErrExpired)

	// The transition was recorded; a second validation observes the
	// stored expired status.
	devices, err := e.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, model.StatusExpired, devices[0].Status)

	_, err = e.Validate(token, "192.168.1.20")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRevokedOverridesExpired(t *testing.T) {
	e, _ := newTestEngine(t)
	id := register(t, e, "laptop")
	token, err := e.Approve(id, 1, nil)
	require.NoError(t, err)

	e.now = func() time.Time { return time.Now().AddDate(0, 0, 2) }
	_, err = e.Validate(token, "192.168.1.20")
	require.ErrorIs(t, err, ErrExpired)

	require.NoError(t, e.Revoke(id, "cleanup"))
	_, err = e.Validate(token, "192.168.1.20")
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestSweepExpired(t *testing.T) {
	e, _ := newTestEngine(t)

	shortID := register(t, e, "short-lived")
	_, err := e.Approve(shortID, 1, nil)
	require.NoError(t, err)
	longID := register(t, e, "long-lived")
	_, err = e.Approve(longID, 30, nil)
	require.NoError(t, err)

	e.now = func() time.Time { return time.Now().AddDate(0, 0, 2) }

	count, err := e.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Idempotent: a second sweep changes nothing.
	count, err = e.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	devices, err := e.Devices()
	require.NoError(t, err)
	statuses := map[string]string{}
	for _, d := range devices {
		statuses[d.DeviceName] = d.Status
	}
	assert.Equal(t, model.StatusExpired, statuses["short-lived"])
	assert.Equal(t, model.StatusApproved, statuses["long-lived"])
}

func TestStats(t *testing.T) {
	e, _ := newTestEngine(t)

	register(t, e, "waiting")
	activeID := register(t, e, "active")
	_, err := e.Approve(activeID, 30, nil)
	require.NoError(t, err)
	revokedID := register(t, e, "revoked")
	_, err = e.Approve(revokedID, 30, nil)
	require.NoError(t, err)
	require.NoError(t, e.Revoke(revokedID, "test"))

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, model.AuthStats{
		PendingRequests: 1,
		ActiveDevices:   1,
		ExpiredDevices:  0,
		RevokedDevices:  1,
		TotalDevices:    2,
	}, stats)
}

func TestConcurrentApprovals(t *testing.T) {
	e, _ := newTestEngine(t)

	ids := []string{register(t, e, "device-a"), register(t, e, "device-b")}
	tokens := make([]string, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			token, err := e.Approve(id, 7, nil)
			assert.NoError(t, err)
			tokens[i] = token
		}(i, id)
	}
	wg.Wait()

	// No lost update: both tokens validate.
	for i, token := range tokens {
		info, err := e.Validate(token, "192.168.1.20")
		require.NoError(t, err)
		assert.Equal(t, ids[i], info.DeviceID)
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)

	id := register(t, e, "laptop")
	token, err := e.Approve(id, 1, nil)
	require.NoError(t, err)

	info, err := e.Validate(token, "192.168.1.20")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.UsageCount)

	e.now = func() time.Time { return time.Now().AddDate(0, 0, 2) }
	_, err = e.Validate(token, "192.168.1.20")
	assert.ErrorIs(t, err, ErrExpired)

	require.NoError(t, e.Revoke(id, "offboarded"))
	_, err = e.Validate(token, "192.168.1.20")
	assert.ErrorIs(t, err, ErrRevoked)
}
