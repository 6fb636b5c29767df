package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/flagx"
	"github.com/dmitrijs2005/wirechat/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP      string         `json:"endpoint_addr_http"`
	DatabaseDSN           string         `json:"database_dsn"`
	RedisAddr             string         `json:"redis_addr"`
	SecretKey             string         `json:"secret_key"`
	SealKey               string         `json:"seal_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	ProviderBaseURL       string         `json:"provider_base_url"`
	StreamRetention       timex.Duration `json:"stream_retention"`
	LivePollInterval      timex.Duration `json:"live_poll_interval"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. Read or parse failures
// panic.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.RedisAddr = c.RedisAddr
	config.SecretKey = c.SecretKey
	config.SealKey = c.SealKey
	config.TokenValidityDuration = time.Duration(c.TokenValidityDuration.Duration)
	config.ProviderBaseURL = c.ProviderBaseURL
	config.StreamRetention = time.Duration(c.StreamRetention.Duration)
	config.LivePollInterval = time.Duration(c.LivePollInterval.Duration)
}
