// Package config handles configuration for the client component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the wirechat CLI.
//
// Fields:
//   - ServerEndpointAddr: base URL of the backend HTTP endpoint.
//   - DatabaseDSN: path of the local SQLite cache.
//   - SyncInterval: how often a periodic sync runs in the background.
//   - LiveBackoff: wait before re-dialing a failed live subscription.
type Config struct {
	ServerEndpointAddr string
	DatabaseDSN        string
	SyncInterval       time.Duration
	LiveBackoff        time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.DatabaseDSN = "chat.db"
	c.SyncInterval = 30 * time.Second
	c.LiveBackoff = 3 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
