package proxmox

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicegate/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.ProxmoxConfig{
		APIURL:      server.URL,
		TokenID:     "devicegate@pve!gateway",
		TokenSecret: "secret",
	})
}

func TestDoUnwrapsEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api2/json/nodes", r.URL.Path)
		assert.Equal(t, "PVEAPIToken=devicegate@pve!gateway=secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[{"node":"pve1"}]}`))
	})

	data, err := client.Nodes()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"node":"pve1"}]`, string(data))
}

func TestDoReportsUpstreamErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "authentication failure", http.StatusUnauthorized)
	})

	_, err := client.Nodes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestVMActionEndpoints(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"data":"UPID:pve1:task"}`))
	})

	_, err := client.VMAction("pve1", 100, "restart")
	require.NoError(t, err)
	assert.Equal(t, "/api2/json/nodes/pve1/qemu/100/status/reboot", gotPath)
}

func TestVMActionRejectsUnknownAction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for an invalid action")
	})

	_, err := client.VMAction("pve1", 100, "explode")
	require.ErrorIs(t, err, ErrInvalidAction)
	assert.Contains(t, err.Error(), "valid actions are")
}

func TestVMStatusPath(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"data":{"status":"running"}}`))
	})

	_, err := client.VMStatus("pve1", 100)
	require.NoError(t, err)
	assert.Equal(t, "/api2/json/nodes/pve1/qemu/100/status/current", gotPath)
}
