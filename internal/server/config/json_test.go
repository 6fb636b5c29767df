package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_http":      "www.example:9000",
		"database_dsn":            "chat.db",
		"redis_addr":              "redis:6379",
		"secret_key":              "my_secret_key",
		"seal_key":                "sealsealsealsealsealsealsealseal",
		"token_validity_duration": "1h",
		"provider_base_url":       "http://localhost:11434/v1",
		"stream_retention":        "2h",
		"live_poll_interval":      "250ms",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrHTTP)
		assert.Equal(t, "chat.db", cfg.DatabaseDSN)
		assert.Equal(t, "redis:6379", cfg.RedisAddr)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, "sealsealsealsealsealsealsealseal", cfg.SealKey)
		assert.Equal(t, time.Hour, cfg.TokenValidityDuration)
		assert.Equal(t, "http://localhost:11434/v1", cfg.ProviderBaseURL)
		assert.Equal(t, 2*time.Hour, cfg.StreamRetention)
		assert.Equal(t, 250*time.Millisecond, cfg.LivePollInterval)
	})

	t.Run("no CONFIG and no flags means no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			EndpointAddrHTTP:      "defaults:1234",
			DatabaseDSN:           "chat.db",
			SecretKey:             "key",
			TokenValidityDuration: 2 * time.Minute,
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrHTTP)
		assert.Equal(t, "chat.db", cfg.DatabaseDSN)
		assert.Equal(t, "key", cfg.SecretKey)
		assert.Equal(t, 2*time.Minute, cfg.TokenValidityDuration)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
