package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/flagx"
)

// parseFlags populates selected client Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   server base URL (e.g., "http://127.0.0.1:8080")
//	-d string   local cache path
//	-i int      periodic sync interval, seconds
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ServerEndpointAddr, "a", config.ServerEndpointAddr, "server base URL")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "local cache path")
	syncInterval := fs.Int("i", int(config.SyncInterval.Seconds()), "sync_interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SyncInterval = time.Duration(*syncInterval) * time.Second
}
