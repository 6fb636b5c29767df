package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/flagx"
	"github.com/dmitrijs2005/wirechat/internal/timex"
)

// JsonConfig is the JSON-file DTO for the client Config. It relies on
// timex.Duration so JSON can specify intervals either as strings ("30s") or
// integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	DatabaseDSN        string         `json:"database_dsn"`
	SyncInterval       timex.Duration `json:"sync_interval"`
	LiveBackoff        timex.Duration `json:"live_backoff"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flags; when neither is set nothing is loaded. Read or parse
// failures panic.
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

	config.ServerEndpointAddr = c.ServerEndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SyncInterval = time.Duration(c.SyncInterval.Duration)
	config.LiveBackoff = time.Duration(c.LiveBackoff.Duration)
}
