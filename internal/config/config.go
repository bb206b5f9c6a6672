package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// ServerConfig holds the listen ports for the two surfaces: the public
// gateway and the local-network admin interface.
type ServerConfig struct {
	GatewayPort int `yaml:"gateway_port"`
	AdminPort   int `yaml:"admin_port"`
}

// StorageConfig holds the credential store location.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// AuthConfig holds token lifecycle and registration abuse-guard knobs.
type AuthConfig struct {
	DefaultExpiryDays     int `yaml:"default_expiry_days"`
	MaxExpiryDays         int `yaml:"max_expiry_days"`
	RegisterMaxRequests   int `yaml:"register_max_requests"`
	RegisterWindowMinutes int `yaml:"register_window_minutes"`
}

// RateLimitConfig holds the per-IP request quotas applied in front of
// each surface.
type RateLimitConfig struct {
	GatewayMaxRequests   int `yaml:"gateway_max_requests"`
	GatewayWindowSeconds int `yaml:"gateway_window_seconds"`
	AdminMaxRequests     int `yaml:"admin_max_requests"`
	AdminWindowSeconds   int `yaml:"admin_window_seconds"`
}

// ProxmoxConfig holds connection details for the hypervisor API the
// gateway proxies to. Empty api_url disables the hypervisor endpoints.
type ProxmoxConfig struct {
	APIURL             string `yaml:"api_url"`
	TokenID            string `yaml:"token_id"`
	TokenSecret        string `yaml:"token_secret"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Config holds the configuration for the gateway process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Proxmox   ProxmoxConfig   `yaml:"proxmox"`
	Debug     bool            `yaml:"debug"`
}

// LoadConfig reads and parses the configuration file. It returns the config and a potential warning message.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config
	var warning string

	data, err := os.ReadFile(path)
	if err == nil {
		// File exists, so unmarshal it
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		// An error other than "not found" occurred
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// If file does not exist, we continue with defaults and rely on environment variables.

	// Set default values
	if config.Server.GatewayPort == 0 {
		config.Server.GatewayPort = 8080
	}
	if config.Server.AdminPort == 0 {
		config.Server.AdminPort = 8081
	}
	if config.Storage.Dir == "" {
		config.Storage.Dir = "data"
		warning = "storage.dir not set, using default value of \"data\""
	}
	if config.Auth.DefaultExpiryDays == 0 {
		config.Auth.DefaultExpiryDays = 30
	}
	if config.Auth.MaxExpiryDays == 0 {
		config.Auth.MaxExpiryDays = 365
	}
	if config.Auth.RegisterMaxRequests == 0 {
		config.Auth.RegisterMaxRequests = 5
	}
	if config.Auth.RegisterWindowMinutes == 0 {
		config.Auth.RegisterWindowMinutes = 15
	}
	if config.RateLimit.GatewayMaxRequests == 0 {
		config.RateLimit.GatewayMaxRequests = 60
	}
	if config.RateLimit.GatewayWindowSeconds == 0 {
		config.RateLimit.GatewayWindowSeconds = 60
	}
	if config.RateLimit.AdminMaxRequests == 0 {
		config.RateLimit.AdminMaxRequests = 120
	}
	if config.RateLimit.AdminWindowSeconds == 0 {
		config.RateLimit.AdminWindowSeconds = 60
	}

	// Override with environment variables if they exist
	if dir := os.Getenv("DEVICEGATE_STORAGE_DIR"); dir != "" {
		config.Storage.Dir = dir
	}
	if port := os.Getenv("DEVICEGATE_GATEWAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.GatewayPort = p
		}
	}
	if port := os.Getenv("DEVICEGATE_ADMIN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.AdminPort = p
		}
	}
	if url := os.Getenv("DEVICEGATE_PROXMOX_API_URL"); url != "" {
		config.Proxmox.APIURL = url
	}
	if id := os.Getenv("DEVICEGATE_PROXMOX_TOKEN_ID"); id != "" {
		config.Proxmox.TokenID = id
	}
	if secret := os.Getenv("DEVICEGATE_PROXMOX_TOKEN_SECRET"); secret != "" {
		config.Proxmox.TokenSecret = secret
	}
	if debug := os.Getenv("DEVICEGATE_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}

	// Final validation after overrides
	if config.Server.GatewayPort == config.Server.AdminPort {
		return nil, "", fmt.Errorf("gateway and admin ports must differ")
	}

	return &config, warning, nil
}
