// Package proxmox is a thin client for the Proxmox VE HTTP API. The
// gateway treats it as an external collaborator: requests reaching it
// have already passed admission, and errors propagate unchanged.
package proxmox

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"devicegate/internal/config"
)

// ErrInvalidAction is returned by VMAction for an action outside
// ValidActions; no request is made in that case.
var ErrInvalidAction = errors.New("invalid action")

// HTTPClient defines the interface for making HTTP requests.
// This allows for mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ValidActions are the VM lifecycle actions the gateway accepts.
var ValidActions = []string{"start", "stop", "restart", "shutdown", "suspend", "resume"}

// vm action -> Proxmox status endpoint name
var actionEndpoints = map[string]string{
	"start":    "start",
	"stop":     "stop",
	"restart":  "reboot",
	"shutdown": "shutdown",
	"suspend":  "suspend",
	"resume":   "resume",
}

// Client talks to one Proxmox VE API endpoint using API-token auth.
type Client struct {
	baseURL    string
	authHeader string
	httpClient HTTPClient
}

// NewClient builds a client from configuration. TLS verification may be
// disabled for lab clusters with self-signed certificates.
func NewClient(cfg config.ProxmoxConfig) *Client {
	transport := &http.Transport{}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		authHeader: fmt.Sprintf("PVEAPIToken=%s=%s", cfg.TokenID, cfg.TokenSecret),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// Do performs a raw API call and returns the decoded "data" envelope
// field. path is relative to /api2/json.
func (c *Client) Do(method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + "/api2/json/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxmox API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("proxmox API returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode proxmox response: %w", err)
	}
	return envelope.Data, nil
}

// Nodes lists the cluster's nodes.
func (c *Client) Nodes() (json.RawMessage, error) {
	return c.Do(http.MethodGet, "nodes", nil)
}

// NodeStatus returns status details for one node.
func (c *Client) NodeStatus(node string) (json.RawMessage, error) {
	return c.Do(http.MethodGet, fmt.Sprintf("nodes/%s/status", node), nil)
}

// VMs lists all QEMU VMs across the cluster.
func (c *Client) VMs() (json.RawMessage, error) {
	return c.Do(http.MethodGet, "cluster/resources?type=vm", nil)
}

// VMStatus returns the current status of one VM.
func (c *Client) VMStatus(node string, vmid int) (json.RawMessage, error) {
	return c.Do(http.MethodGet, fmt.Sprintf("nodes/%s/qemu/%d/status/current", node, vmid), nil)
}

// VMAction performs a lifecycle action on a VM. The action must be one
// of ValidActions.
func (c *Client) VMAction(node string, vmid int, action string) (json.RawMessage, error) {
	endpoint, ok := actionEndpoints[action]
	if !ok {
		return nil, fmt.Errorf("%w %q, valid actions are: %s", ErrInvalidAction, action, strings.Join(ValidActions, ", "))
	}
	return c.Do(http.MethodPost, fmt.Sprintf("nodes/%s/qemu/%d/status/%s", node, vmid, endpoint), nil)
}
